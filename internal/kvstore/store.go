// Package kvstore holds a single shard's local data: the value map, the
// per-key causal history, the node-wide version table, and the
// between-gossip delta (spec.md §3, C5). It owns no lock of its own —
// every call is made while the caller (internal/node.Handler) holds the
// node's single state mutex, so Store itself stays a plain, easily
// tested value-holder.
package kvstore

import (
	"causalkv/internal/causal"
	"causalkv/internal/clock"
)

// Store is the in-memory state of one shard replica.
type Store struct {
	Values               map[string]string
	PerItemHistory       map[string]causal.History
	LocalKeyVersions     causal.History
	BetweenGossipUpdates causal.History
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Values:               make(map[string]string),
		PerItemHistory:       make(map[string]causal.History),
		LocalKeyVersions:     causal.New(),
		BetweenGossipUpdates: causal.New(),
	}
}

// Get returns the locally stored value for key.
func (s *Store) Get(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Put records a local write: the value, the merged per-item history
// seeded from the client's history (or fresh if absent) plus the
// write's own clock, and the bump to local_key_versions and
// between_gossip_updates (spec.md §4.2 step 5; §3 invariant:
// between_gossip_updates ⊆ local_key_versions). Returns whether key
// already existed, so the caller can pick 200 vs 201.
func (s *Store) Put(key, value string, clientHistory causal.History, vc clock.VectorClock) bool {
	_, existed := s.Values[key]
	s.Values[key] = value

	h := causal.New()
	if clientHistory != nil {
		h = clientHistory.Copy()
	}
	h.Insert(key, vc)
	s.PerItemHistory[key] = h

	s.LocalKeyVersions.Insert(key, vc)
	s.BetweenGossipUpdates.Insert(key, vc)
	return existed
}

// MergeFrom applies a remote delta the same way for gossip and for
// reshard fragment receipt (spec.md §9 open question 2: VC-aware merge
// everywhere, not last-write-wins). Only keys whose incoming clock
// strictly dominates our recorded version are accepted. Returns the
// keys that changed.
func (s *Store) MergeFrom(items map[string]string, itemHistory map[string]causal.History, updatedKeyTimes causal.History) []string {
	updated := s.LocalKeyVersions.Merge(updatedKeyTimes)
	for _, k := range updated {
		if v, ok := items[k]; ok {
			s.Values[k] = v
		}
		if h, ok := itemHistory[k]; ok {
			s.PerItemHistory[k] = h.Copy()
		}
		if vc := updatedKeyTimes.Get(k); vc != nil {
			s.BetweenGossipUpdates.Insert(k, *vc)
		}
	}
	return updated
}

// Reset clears all local state. Called on every view change (spec.md
// §3 "Lifecycle") and by a reshard follower after its keys have been
// gathered by its old shard leader (spec.md §4.5 step 1).
func (s *Store) Reset() {
	s.Values = make(map[string]string)
	s.PerItemHistory = make(map[string]causal.History)
	s.LocalKeyVersions = causal.New()
	s.BetweenGossipUpdates = causal.New()
}

// ClearBetweenGossipUpdates drops the gossip delta once every shard
// peer has acknowledged it in the same round (spec.md §9 open question
// 1). Left unused unless gossip.Engine's clearOnFullAck is enabled.
func (s *Store) ClearBetweenGossipUpdates() {
	s.BetweenGossipUpdates = causal.New()
}

// Keys returns every locally held key, in no particular order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	return keys
}

// KeyCount returns len(Values).
func (s *Store) KeyCount() int {
	return len(s.Values)
}

// Snapshot returns deep copies of the value map and local_key_versions,
// used by the reshard coordinator to gather a follower's state (spec.md
// §4.5 step 1, get_keys) without aliasing the follower's live maps.
func (s *Store) Snapshot() (map[string]string, causal.History) {
	values := make(map[string]string, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return values, s.LocalKeyVersions.Copy()
}

// HistorySnapshot returns a deep copy of per_item_history, used when
// building a reshard fragment.
func (s *Store) HistorySnapshot() map[string]causal.History {
	out := make(map[string]causal.History, len(s.PerItemHistory))
	for k, h := range s.PerItemHistory {
		out[k] = h.Copy()
	}
	return out
}
