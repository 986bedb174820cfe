// Package causal holds the causal-dependency bookkeeping built on top
// of internal/clock: per-key causal histories, and the opaque context
// a client carries between requests so any replica can check whether
// it's safe to serve a read without violating happens-before order.
package causal

import "causalkv/internal/clock"

// History maps a key to the VectorClock of its most recent known
// write. It is used three ways by a node (spec.md §3): the per-item
// history attached to a specific key's last write, the node-wide
// local_key_versions table, and the between-gossip delta.
type History map[string]clock.VectorClock

// New returns an empty History.
func New() History {
	return make(History)
}

// Get returns the VectorClock recorded for key, or nil if the key has
// no entry. The nil case lets callers feed the result straight into
// clock.Compare, which treats a nil clock as "absent" per spec.md §3.
func (h History) Get(key string) *clock.VectorClock {
	vc, ok := h[key]
	if !ok {
		return nil
	}
	return &vc
}

// Insert stores c under key if key is absent, or if c is strictly
// newer than the clock already stored. Returns whether the insert
// took effect. The clock is deep-copied so later mutation of c by the
// caller cannot alias into the history.
func (h History) Insert(key string, c clock.VectorClock) bool {
	existing := h.Get(key)
	if existing != nil && clock.Compare(&c, existing) != clock.Greater {
		return false
	}
	h[key] = c.Copy()
	return true
}

// Merge inserts every entry of other into h, keeping only strictly
// newer clocks, and returns the keys that were actually updated.
func (h History) Merge(other History) []string {
	var updated []string
	for key, c := range other {
		if h.Insert(key, c) {
			updated = append(updated, key)
		}
	}
	return updated
}

// Copy returns a deep copy of h so it can be handed across a merge
// boundary (e.g. into a client-facing Ctx) without aliasing.
func (h History) Copy() History {
	out := make(History, len(h))
	for k, v := range h {
		out[k] = v.Copy()
	}
	return out
}
