package node

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// ShardSummary is the response shape for /kvs/shards/<id> and for each
// entry in the view-change aggregate response (spec.md §4.6, §4.5
// step 7).
type ShardSummary struct {
	ShardID  int      `json:"shard-id"`
	KeyCount int      `json:"key-count"`
	Replicas []string `json:"replicas"`
}

// KeyCountResponse is the response of GET /kvs/key-count.
type KeyCountResponse struct {
	KeyCount int `json:"key-count"`
	ShardID  int `json:"shard-id"`
}

// ShardsResponse is the response of GET /kvs/shards.
type ShardsResponse struct {
	Shards []int `json:"shards"`
}

// HandleKeyCount implements GET /kvs/key-count.
func (h *Handler) HandleKeyCount() KeyCountResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	shardID := -1
	if h.view.IsMember() {
		shardID = *h.view.ThisShard
	}
	return KeyCountResponse{KeyCount: h.store.KeyCount(), ShardID: shardID}
}

// HandleShards implements GET /kvs/shards.
func (h *Handler) HandleShards() ShardsResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int, h.view.NumShards())
	for i := range ids {
		ids[i] = i
	}
	return ShardsResponse{Shards: ids}
}

// HandleShardInfo implements GET /kvs/shards/<id> (spec.md §4.6): if i
// is this node's own shard, answer locally; otherwise proxy to any
// replica of shard i and return the first 200.
func (h *Handler) HandleShardInfo(ctx context.Context, i int) (int, ShardSummary) {
	h.mu.Lock()
	isMine := h.view.IsMember() && i == *h.view.ThisShard
	replicas := h.view.ReplicasOf(i)
	summary := ShardSummary{ShardID: i, KeyCount: h.store.KeyCount(), Replicas: replicas}
	h.mu.Unlock()

	if isMine {
		return http.StatusOK, summary
	}
	if len(replicas) == 0 {
		return http.StatusNotFound, ShardSummary{ShardID: i}
	}

	status, body, _, ok := h.fanOut(ctx, http.MethodGet, replicas, shardInfoPath(i), nil)
	if !ok {
		return http.StatusServiceUnavailable, ShardSummary{ShardID: i}
	}
	var resp ShardSummary
	_ = json.Unmarshal(body, &resp)
	return status, resp
}

func shardInfoPath(i int) string {
	return "/kvs/shards/" + strconv.Itoa(i)
}
