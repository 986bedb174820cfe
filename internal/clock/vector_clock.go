// Package clock implements per-replica logical time.
//
// Problem:
// In a causally consistent store, two replicas can each accept a write
// for the same key before hearing from each other. We need a way to
// decide, later, which write happened-after which — without a shared
// clock and without blocking on a coordinator.
//
// A vector clock solves this. Each replica keeps a counter per address
// it knows about and bumps its own counter on every local write. Two
// clocks can then be compared by looking at every coordinate:
//
//   - if every coordinate of A is <= the matching coordinate of B, and
//     at least one is strictly less, A happened-before B.
//   - if neither dominates, the writes are concurrent — a true
//     conflict that needs a tie-break.
//
// This package never reports "concurrent" to callers: Compare always
// resolves ties deterministically so replicas converge on a single
// winner per key without a vote.
package clock

import "maps"

// Relation describes how one VectorClock relates to another.
type Relation int

const (
	Less Relation = iota
	Equal
	Greater
)

// VectorClock is a replica's logical clock over a fixed replica set.
//
// Owner identifies which address this clock belongs to — Increment
// only ever bumps Owner's own coordinate. Counter holds one entry per
// address in the replica set the clock was created over; within a
// shard, every VectorClock shares the same key set (spec invariant).
type VectorClock struct {
	Owner   string
	Counter map[string]uint64
}

// New creates a zeroed VectorClock owned by owner over the given
// replica set.
func New(owner string, replicas []string) VectorClock {
	counter := make(map[string]uint64, len(replicas))
	for _, addr := range replicas {
		counter[addr] = 0
	}
	return VectorClock{Owner: owner, Counter: counter}
}

// Increment bumps the owner's own coordinate by one. Call this exactly
// once per local write.
func (vc VectorClock) Increment() {
	vc.Counter[vc.Owner]++
}

// Copy returns a deep copy so callers can safely stash a clock across
// a merge boundary without aliasing the original's map.
func (vc VectorClock) Copy() VectorClock {
	c := make(map[string]uint64, len(vc.Counter))
	maps.Copy(c, vc.Counter)
	return VectorClock{Owner: vc.Owner, Counter: c}
}

// Merge returns the pointwise maximum of vc and other over the union
// of their coordinates. The result keeps vc's Owner. A nil other
// leaves vc unchanged (merging in nothing).
func (vc VectorClock) Merge(other *VectorClock) VectorClock {
	merged := vc.Copy()
	if other == nil {
		return merged
	}
	for addr, cnt := range other.Counter {
		if cnt > merged.Counter[addr] {
			merged.Counter[addr] = cnt
		}
	}
	return merged
}

// Compare orders a against b. Either may be nil, meaning "this replica
// has no record of this key's clock" — a nil clock always compares
// Less, and the other side compares Greater (an absent write is
// causally before any recorded write). If both are nil, they compare
// Equal.
//
// When both are present, coordinates are compared pointwise; if
// neither dominates, the tie is broken by owner address — the clock
// with the lexicographically smaller owner wins (Greater). This means
// Compare never reports "concurrent": callers only ever see Less,
// Equal, or Greater, per the spec's total-order requirement.
func Compare(a, b *VectorClock) Relation {
	switch {
	case a == nil && b == nil:
		return Equal
	case a == nil:
		return Less
	case b == nil:
		return Greater
	}

	aDominates, bDominates := false, false
	for addr, cnt := range a.Counter {
		switch {
		case cnt > b.Counter[addr]:
			aDominates = true
		case cnt < b.Counter[addr]:
			bDominates = true
		}
	}
	for addr, cnt := range b.Counter {
		if _, ok := a.Counter[addr]; !ok && cnt > 0 {
			bDominates = true
		}
	}

	switch {
	case !aDominates && !bDominates:
		return Equal
	case aDominates && !bDominates:
		return Greater
	case !aDominates && bDominates:
		return Less
	default:
		// Concurrent: smaller owner address wins.
		if a.Owner <= b.Owner {
			return Greater
		}
		return Less
	}
}
