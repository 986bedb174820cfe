// Package topology tracks cluster membership: the sorted view, the
// derived shard table, where this node sits in it, and the
// monotonically increasing current_view id used to invalidate client
// contexts scoped to a prior view (spec.md §3, §4.5).
package topology

import (
	"fmt"
	"sort"
	"strings"
)

// View is an immutable snapshot of cluster membership at a point in
// time. A node holds its current View; during a reshard the
// coordinator (internal/node) keeps a copy of the previous one.
type View struct {
	Addresses   []string   // sorted
	ReplFactor  int        // R
	Shards      [][]string // shards[i][j] = view[i*R+j]
	ThisShard   *int       // nil if self is not a member of this view
	CurrentView int
	self        string
}

// New builds a View from a comma-separated address list, sorting it
// and deriving the shard table exactly as spec.md §3/§4.1 describe:
// shards[i][j] = view[i*R+j], num_shards = len(view)/R.
func New(viewCSV string, replFactor int, currentView int, self string) (View, error) {
	addrs := splitView(viewCSV)
	sort.Strings(addrs)

	if replFactor <= 0 {
		return View{}, fmt.Errorf("replication factor must be positive, got %d", replFactor)
	}
	if len(addrs)%replFactor != 0 {
		return View{}, fmt.Errorf("view size %d is not a multiple of replication factor %d", len(addrs), replFactor)
	}

	numShards := len(addrs) / replFactor
	shards := make([][]string, numShards)
	for i := range shards {
		shards[i] = append([]string(nil), addrs[i*replFactor:(i+1)*replFactor]...)
	}

	v := View{
		Addresses:   addrs,
		ReplFactor:  replFactor,
		Shards:      shards,
		CurrentView: currentView,
		self:        self,
	}

	for i, shard := range shards {
		for _, addr := range shard {
			if addr == self {
				idx := i
				v.ThisShard = &idx
			}
		}
	}

	return v, nil
}

func splitView(csv string) []string {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NumShards returns len(Shards).
func (v View) NumShards() int {
	return len(v.Shards)
}

// ReplicasOf returns the replica addresses of shard i, or nil if out
// of range.
func (v View) ReplicasOf(shardIdx int) []string {
	if shardIdx < 0 || shardIdx >= len(v.Shards) {
		return nil
	}
	return v.Shards[shardIdx]
}

// ShardLeader returns the leader address (replica index 0) of shard i.
func (v View) ShardLeader(shardIdx int) string {
	replicas := v.ReplicasOf(shardIdx)
	if len(replicas) == 0 {
		return ""
	}
	return replicas[0]
}

// IsMember reports whether self belongs to this view.
func (v View) IsMember() bool {
	return v.ThisShard != nil
}

// IsShardLeader reports whether self is replica 0 of its own shard.
func (v View) IsShardLeader() bool {
	return v.ThisShard != nil && v.ShardLeader(*v.ThisShard) == v.self
}

// Self returns this node's own address.
func (v View) Self() string {
	return v.self
}

// String renders the view back to its comma-separated wire form.
func (v View) String() string {
	return strings.Join(v.Addresses, ",")
}
