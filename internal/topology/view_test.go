package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSortsView(t *testing.T) {
	v, err := New("c:1,a:1,b:1", 1, 0, "a:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:1", "c:1"}, v.Addresses)
}

func TestShardTableDerivation(t *testing.T) {
	v, err := New("n1,n2,n3,n4", 2, 0, "n1")
	require.NoError(t, err)

	require.Equal(t, 2, v.NumShards())
	assert.Equal(t, []string{"n1", "n2"}, v.Shards[0])
	assert.Equal(t, []string{"n3", "n4"}, v.Shards[1])
	require.NotNil(t, v.ThisShard)
	assert.Equal(t, 0, *v.ThisShard)
}

func TestSelfNotInViewHasNilShard(t *testing.T) {
	v, err := New("n1,n2", 2, 0, "n3")
	require.NoError(t, err)
	assert.Nil(t, v.ThisShard)
	assert.False(t, v.IsMember())
}

func TestReplFactorMustDivideView(t *testing.T) {
	_, err := New("n1,n2,n3", 2, 0, "n1")
	assert.Error(t, err)
}

func TestShardLeaderIsReplicaZero(t *testing.T) {
	v, err := New("n1,n2,n3,n4", 2, 0, "n4")
	require.NoError(t, err)
	assert.Equal(t, "n3", v.ShardLeader(1))
	assert.False(t, v.IsShardLeader(), "n4 is replica 1 of shard 1, not the leader")

	v2, err := New("n1,n2,n3,n4", 2, 0, "n1")
	require.NoError(t, err)
	assert.True(t, v2.IsShardLeader())
}
