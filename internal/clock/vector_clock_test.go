package clock

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareTotality(t *testing.T) {
	replicas := []string{"n1", "n2"}
	a := New("n1", replicas)
	b := New("n2", replicas)

	rel := Compare(&a, &b)
	assert.Contains(t, []Relation{Less, Equal, Greater}, rel)
}

func TestCompareNilIsLess(t *testing.T) {
	vc := New("n1", []string{"n1"})
	assert.Equal(t, Less, Compare(nil, &vc))
	assert.Equal(t, Greater, Compare(&vc, nil))
	assert.Equal(t, Equal, Compare(nil, nil))
}

func TestCompareConcurrentTieBreak(t *testing.T) {
	// S5: A={n1:2,n2:1,owner:n1} vs B={n1:1,n2:2,owner:n2} -> concurrent,
	// resolved GREATER for A because "n1" < "n2".
	a := VectorClock{Owner: "n1", Counter: map[string]uint64{"n1": 2, "n2": 1}}
	b := VectorClock{Owner: "n2", Counter: map[string]uint64{"n1": 1, "n2": 2}}

	assert.Equal(t, Greater, Compare(&a, &b))
	assert.Equal(t, Less, Compare(&b, &a))
}

func TestCompareStrictDomination(t *testing.T) {
	a := VectorClock{Owner: "n1", Counter: map[string]uint64{"n1": 2, "n2": 1}}
	b := VectorClock{Owner: "n1", Counter: map[string]uint64{"n1": 1, "n2": 1}}

	assert.Equal(t, Greater, Compare(&a, &b))
	assert.Equal(t, Less, Compare(&b, &a))
}

func TestCompareEqual(t *testing.T) {
	a := New("n1", []string{"n1", "n2"})
	b := a.Copy()
	b.Owner = "n1"
	assert.Equal(t, Equal, Compare(&a, &b))
}

func TestIncrementOnlyBumpsOwner(t *testing.T) {
	vc := New("n1", []string{"n1", "n2"})
	vc.Increment()
	assert.Equal(t, uint64(1), vc.Counter["n1"])
	assert.Equal(t, uint64(0), vc.Counter["n2"])
}

func TestMergeTakesPointwiseMax(t *testing.T) {
	a := VectorClock{Owner: "n1", Counter: map[string]uint64{"n1": 2, "n2": 0}}
	b := VectorClock{Owner: "n2", Counter: map[string]uint64{"n1": 1, "n2": 3}}

	merged := a.Merge(&b)
	assert.Equal(t, uint64(2), merged.Counter["n1"])
	assert.Equal(t, uint64(3), merged.Counter["n2"])
	assert.Equal(t, "n1", merged.Owner, "merge keeps the receiver's owner")
}

func TestMergeNilIsNoop(t *testing.T) {
	a := New("n1", []string{"n1"})
	a.Increment()
	merged := a.Merge(nil)
	assert.Equal(t, a.Counter, merged.Counter)
}

func TestCopyIsDeep(t *testing.T) {
	a := New("n1", []string{"n1"})
	b := a.Copy()
	b.Increment()
	assert.Equal(t, uint64(0), a.Counter["n1"])
	assert.Equal(t, uint64(1), b.Counter["n1"])
}

func TestRoundTripEncoding(t *testing.T) {
	original := VectorClock{Owner: "10.0.0.1:8080", Counter: map[string]uint64{
		"10.0.0.1:8080": 3,
		"10.0.0.2:8080": 1,
	}}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded VectorClock
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.Owner, decoded.Owner)
	assert.Equal(t, original.Counter, decoded.Counter)
}
