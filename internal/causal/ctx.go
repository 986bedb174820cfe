package causal

import "causalkv/internal/clock"

// Ctx is the causal context a client carries between requests
// (spec.md §6). It is opaque to the client semantically but has a
// fixed wire shape: any field may be absent, meaning "I have no
// knowledge of this yet" rather than a distinct zero value.
type Ctx struct {
	CurrentView   *int                  `json:"current_view,omitempty"`
	HighClockList []*clock.VectorClock  `json:"high_clock_list,omitempty"`
	History       History               `json:"history,omitempty"`
}

// Fresh builds the empty context a handler synthesizes when a client
// sends no causal context at all (spec.md §4.3.1): num_shards worth of
// nil high-clock slots, an empty history, and the node's current view.
func Fresh(numShards, currentView int) Ctx {
	return Ctx{
		CurrentView:   intPtr(currentView),
		HighClockList: make([]*clock.VectorClock, numShards),
		History:       New(),
	}
}

// IsEmpty reports whether the client sent no usable context at all.
func (c Ctx) IsEmpty() bool {
	return c.CurrentView == nil && len(c.HighClockList) == 0 && len(c.History) == 0
}

// HighClockFor returns the high-clock slot for shardIdx, or nil if the
// slice doesn't reach that far or the slot itself is unset.
func (c Ctx) HighClockFor(shardIdx int) *clock.VectorClock {
	if shardIdx < 0 || shardIdx >= len(c.HighClockList) {
		return nil
	}
	return c.HighClockList[shardIdx]
}

// WithHighClock returns a copy of c with slot shardIdx set to vc,
// growing HighClockList to fit if needed.
func (c Ctx) WithHighClock(shardIdx, numShards int, vc clock.VectorClock) Ctx {
	out := c
	out.HighClockList = make([]*clock.VectorClock, numShards)
	copy(out.HighClockList, c.HighClockList)
	cp := vc.Copy()
	out.HighClockList[shardIdx] = &cp
	return out
}

func intPtr(v int) *int { return &v }
