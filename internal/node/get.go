package node

import (
	"context"
	"encoding/json"
	"net/http"

	"causalkv/internal/causal"
	"causalkv/internal/clock"
	"causalkv/internal/partition"
)

// HandleGet implements the client GET contract (spec.md §4.3).
func (h *Handler) HandleGet(ctx context.Context, key string, req GetRequest) (int, GetResponse) {
	// The ownership decision and, on the local path, the safety check and
	// read itself must happen under the same lock acquisition: releasing
	// the mutex between them would let a concurrent view-change move or
	// shrink the view out from under the shard index and high-clock slot
	// computed below (spec.md §5 — one logical writer over the full state
	// bundle).
	h.mu.Lock()
	numShards := h.view.NumShards()

	cctx := req.CausalContext
	switch {
	case cctx.IsEmpty():
		cctx = causal.Fresh(numShards, h.view.CurrentView)
	case cctx.CurrentView != nil && *cctx.CurrentView < h.view.CurrentView:
		// View-change invalidation (spec.md §8 property 7): never NACK a
		// client behind a view change — serve with a fresh context for
		// the new view instead of reasoning about its stale history.
		cctx = causal.Fresh(numShards, h.view.CurrentView)
	}

	target := partition.ShardOf(key, numShards)
	isMine := h.view.IsMember() && target == *h.view.ThisShard
	if !isMine {
		replicas := h.view.ReplicasOf(target)
		h.mu.Unlock()

		status, body, peer, ok := h.fanOut(ctx, http.MethodGet, replicas, "/kvs/keys/"+key, GetRequest{CausalContext: cctx})
		if !ok {
			return http.StatusServiceUnavailable, GetResponse{CausalContext: cctx, Error: "unable to satisfy request"}
		}
		var resp GetResponse
		_ = json.Unmarshal(body, &resp)
		resp.ForwardedBy = peer
		return status, resp
	}
	defer h.mu.Unlock()

	shardIdx := *h.view.ThisShard
	localVC := h.store.LocalKeyVersions.Get(key)
	clientVC := cctx.History.Get(key)
	cmp := clock.Compare(localVC, clientVC)

	safe := localVC == nil || cmp == clock.Greater || cmp == clock.Equal

	if !safe {
		if hc := cctx.HighClockFor(shardIdx); hc != nil {
			h.clk = h.clk.Merge(hc)
		}
		if h.metrics != nil {
			h.metrics.NacksTotal.Inc()
		}
		return http.StatusBadRequest, GetResponse{CausalContext: cctx, Error: "Unable to satisfy request"}
	}

	if hc := cctx.HighClockFor(shardIdx); hc != nil {
		h.clk = h.clk.Merge(hc)
	}
	respCtx := cctx.WithHighClock(shardIdx, numShards, h.clk)

	mergedHistory := causal.New()
	if cctx.History != nil {
		mergedHistory = cctx.History.Copy()
	}
	if ph, ok := h.store.PerItemHistory[key]; ok {
		mergedHistory.Merge(ph)
	}
	respCtx.History = mergedHistory
	currentView := h.view.CurrentView
	respCtx.CurrentView = &currentView

	value, exists := h.store.Get(key)
	if !exists {
		return http.StatusNotFound, GetResponse{DoesExist: false, CausalContext: respCtx}
	}
	return http.StatusOK, GetResponse{DoesExist: true, Value: value, CausalContext: respCtx}
}
