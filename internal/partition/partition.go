// Package partition implements the key→shard assignment used across
// the cluster.
//
// Earlier drafts of this system used a consistent-hash ring with
// virtual nodes (the classic Dynamo/Cassandra trick for minimizing
// data movement when membership changes incrementally). This system
// doesn't have incremental membership changes — a view change is a
// synchronous, multi-phase reshard that moves every key that needs to
// move anyway (internal/node's Coordinator) — so the ring's main
// benefit doesn't apply here, and a plain, stable mod-hash is both
// simpler and easier to reason about under the reshard protocol.
//
// ShardOf must depend only on the number of shards, never on replica
// identities or replication factor, so that two nodes who agree on
// num_shards always agree on where a key lives.
package partition

import "crypto/md5"

// ShardOf returns the shard index key belongs to, given the current
// number of shards. It is the single source of truth the replication
// layer, the proxy layer, and the reshard coordinator all call — keep
// it pure and allocation-light since it sits on every read and write.
func ShardOf(key string, numShards int) int {
	if numShards <= 0 {
		return 0
	}
	sum := md5.Sum([]byte(key))
	// Use the low 64 bits as a big-endian integer, matching the
	// reference implementation's "treat the full digest as one huge
	// integer, then mod" behavior closely enough for a stable,
	// uniformly distributed result; a mod over a fixed-width
	// integer is all the property (C3, spec.md §8.4) requires.
	var n uint64
	for _, b := range sum[8:] {
		n = n<<8 | uint64(b)
	}
	return int(n % uint64(numShards))
}
