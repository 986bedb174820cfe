package causal

import (
	"encoding/json"
	"testing"

	"causalkv/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshContext(t *testing.T) {
	ctx := Fresh(3, 5)
	require.NotNil(t, ctx.CurrentView)
	assert.Equal(t, 5, *ctx.CurrentView)
	assert.Len(t, ctx.HighClockList, 3)
	assert.Empty(t, ctx.History)
}

func TestEmptyContextDetected(t *testing.T) {
	var ctx Ctx
	assert.True(t, ctx.IsEmpty())

	ctx = Fresh(2, 0)
	assert.False(t, ctx.IsEmpty())
}

func TestWithHighClockGrowsSlice(t *testing.T) {
	ctx := Ctx{}
	vc := clock.New("n1", []string{"n1"})
	updated := ctx.WithHighClock(1, 2, vc)

	require.Len(t, updated.HighClockList, 2)
	assert.Nil(t, updated.HighClockList[0])
	require.NotNil(t, updated.HighClockList[1])
	assert.Equal(t, "n1", updated.HighClockList[1].Owner)
}

func TestCtxRoundTripOmitsAbsentFields(t *testing.T) {
	var ctx Ctx
	data, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	var decoded Ctx
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.IsEmpty())
}
