package node

import (
	"context"
	"encoding/json"
	"net/http"

	"causalkv/internal/partition"
)

// HandlePut implements the client PUT contract (spec.md §4.2).
func (h *Handler) HandlePut(ctx context.Context, key string, req PutRequest) (int, PutResponse) {
	if len(key) > 50 {
		return http.StatusBadRequest, PutResponse{CausalContext: req.CausalContext, Error: "key too long"}
	}
	if req.Value == nil {
		return http.StatusBadRequest, PutResponse{CausalContext: req.CausalContext, Error: "value is required"}
	}

	// The ownership decision and, on the local path, the mutation itself
	// must happen under the same lock acquisition: releasing the mutex
	// between them would let a concurrent view-change move or shrink the
	// view out from under the shard index and high-clock slot computed
	// below (spec.md §5 — one logical writer over the full state bundle).
	h.mu.Lock()
	numShards := h.view.NumShards()
	target := partition.ShardOf(key, numShards)
	isMine := h.view.IsMember() && target == *h.view.ThisShard
	if !isMine {
		replicas := h.view.ReplicasOf(target)
		h.mu.Unlock()

		status, body, peer, ok := h.fanOut(ctx, http.MethodPut, replicas, "/kvs/keys/"+key, req)
		if !ok {
			return http.StatusServiceUnavailable, PutResponse{CausalContext: req.CausalContext, Error: "unable to satisfy request"}
		}
		var resp PutResponse
		_ = json.Unmarshal(body, &resp)
		resp.ForwardedBy = peer
		return status, resp
	}
	defer h.mu.Unlock()

	cctx := req.CausalContext
	// Stale-context check (spec.md §4.2 step 4): a context scoped to a
	// prior view carries no meaningful history or high-clock list here.
	if cctx.CurrentView != nil && *cctx.CurrentView != h.view.CurrentView {
		cctx.History = nil
		cctx.HighClockList = nil
	}
	currentView := h.view.CurrentView
	cctx.CurrentView = &currentView

	shardIdx := *h.view.ThisShard
	if hc := cctx.HighClockFor(shardIdx); hc != nil {
		h.clk = h.clk.Merge(hc)
	}
	h.clk.Increment()

	existed := h.store.Put(key, *req.Value, cctx.History, h.clk)

	if h.metrics != nil {
		h.metrics.KeyCount.Set(float64(h.store.KeyCount()))
	}

	respCtx := cctx.WithHighClock(shardIdx, numShards, h.clk)
	respCtx.History = h.store.PerItemHistory[key].Copy()
	respCtx.CurrentView = &currentView

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	return status, PutResponse{Replaced: existed, CausalContext: respCtx}
}
