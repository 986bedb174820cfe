// Package node implements the client-facing request handler (C7) and
// the view-change coordinator (C8) — spec.md §4.2-§4.5. Both halves
// share one Handler and its single mutex: "one logical writer at a
// time over the full state bundle" (spec.md §5).
package node

import (
	"net/http"
	"sync"
	"time"

	"causalkv/internal/causal"
	"causalkv/internal/clock"
	"causalkv/internal/gossip"
	"causalkv/internal/kvstore"
	"causalkv/internal/observability"
	"causalkv/internal/topology"

	"go.uber.org/zap"
)

// Handler owns a shard replica's entire mutable state: the view, the
// store, and the node's own clock. Every mutating operation — PUT, GET's
// safety-check update, gossip merge, every reshard phase — takes mu.
type Handler struct {
	mu sync.Mutex

	address    string
	view       topology.View
	replFactor int
	store      *kvstore.Store
	clk        clock.VectorClock
	alive      map[string]bool

	httpClient *http.Client
	log        *zap.Logger
	metrics    *observability.Metrics

	// reshard holds the transient per-shard fragments built by
	// HandleRehash and consumed by HandleReshard (spec.md §3, §4.5
	// steps 4-5). Empty outside an in-flight reshard.
	reshard reshardState
}

// New constructs a Handler for a node at address, starting from view.
// It never reads the environment, so it can be constructed directly in
// tests (spec.md §9 "Global state": "the node must be constructible
// with (view, repl_factor, address) without reading environment").
func New(address string, view topology.View, replFactor int, log *zap.Logger, metrics *observability.Metrics) *Handler {
	h := &Handler{
		address:    address,
		view:       view,
		replFactor: replFactor,
		store:      kvstore.New(),
		httpClient: &http.Client{},
		log:        log,
		metrics:    metrics,
	}
	h.resetClockLocked()
	return h
}

// resetClockLocked reseeds cur_time and replica_alive over the current
// shard's replica set. Caller must hold mu.
func (h *Handler) resetClockLocked() {
	var replicas []string
	if h.view.IsMember() {
		replicas = h.view.ReplicasOf(*h.view.ThisShard)
	}
	h.clk = clock.New(h.address, replicas)
	h.alive = make(map[string]bool, len(replicas))
	for _, r := range replicas {
		h.alive[r] = true
	}
}

// View returns a copy of the current membership view.
func (h *Handler) View() topology.View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view
}

// KeyCount returns the number of keys held locally.
func (h *Handler) KeyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.KeyCount()
}

// ─── gossip.Node implementation ────────────────────────────────────────

// Address returns this node's own address.
func (h *Handler) Address() string { return h.address }

// ShardPeers returns the other replicas of this node's own shard, or
// nil if this node is not currently a member of any shard.
func (h *Handler) ShardPeers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shardPeersLocked()
}

func (h *Handler) shardPeersLocked() []string {
	if !h.view.IsMember() {
		return nil
	}
	replicas := h.view.ReplicasOf(*h.view.ThisShard)
	peers := make([]string, 0, len(replicas))
	for _, r := range replicas {
		if r != h.address {
			peers = append(peers, r)
		}
	}
	return peers
}

// BuildOutbound assembles the gossip payload from between_gossip_updates
// (spec.md §4.4 "Outbound").
func (h *Handler) BuildOutbound() gossip.Payload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buildPayloadLocked()
}

func (h *Handler) buildPayloadLocked() gossip.Payload {
	items := make(map[string]string, len(h.store.BetweenGossipUpdates))
	itemHistory := make(map[string]causal.History, len(h.store.BetweenGossipUpdates))
	for k := range h.store.BetweenGossipUpdates {
		if v, ok := h.store.Get(k); ok {
			items[k] = v
		}
		if ph, ok := h.store.PerItemHistory[k]; ok {
			itemHistory[k] = ph.Copy()
		}
	}
	return gossip.Payload{
		Items:           items,
		ItemHistory:     itemHistory,
		UpdatedKeyTimes: h.store.BetweenGossipUpdates.Copy(),
		VectorClock:     h.clk.Copy(),
		Address:         h.address,
	}
}

// HandleInbound implements the gossip inbound ack path (spec.md §4.4):
// if sender belongs to our shard, merge its delta, reply with the
// symmetric payload built from our own delta; otherwise report it as
// an unrecognized peer so the caller can respond 404.
func (h *Handler) HandleInbound(sender gossip.Payload) (gossip.Payload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isShardPeerLocked(sender.Address) {
		return gossip.Payload{}, false
	}

	h.store.MergeFrom(sender.Items, sender.ItemHistory, sender.UpdatedKeyTimes)
	h.clk = h.clk.Merge(&sender.VectorClock)
	h.alive[sender.Address] = true

	return h.buildPayloadLocked(), true
}

// ApplyPeerResponse applies an outbound gossip round's response the
// same way the inbound path does, and marks the peer alive.
func (h *Handler) ApplyPeerResponse(peerAddr string, resp gossip.Payload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.store.MergeFrom(resp.Items, resp.ItemHistory, resp.UpdatedKeyTimes)
	h.clk = h.clk.Merge(&resp.VectorClock)
	h.alive[peerAddr] = true
}

// MarkDown records a peer as unreachable in this gossip round.
func (h *Handler) MarkDown(peerAddr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive[peerAddr] = false
}

// ClearBetweenGossipUpdates implements spec.md §9 open question 1.
func (h *Handler) ClearBetweenGossipUpdates() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.store.ClearBetweenGossipUpdates()
}

func (h *Handler) isShardPeerLocked(addr string) bool {
	if !h.view.IsMember() {
		return false
	}
	for _, r := range h.view.ReplicasOf(*h.view.ThisShard) {
		if r == addr {
			return true
		}
	}
	return false
}

var _ gossip.Node = (*Handler)(nil)

// requestTimeout is the uniform per-call timeout for outbound fan-out
// (proxying, reshard phases) mandated by spec.md §5.
const requestTimeout = 500 * time.Millisecond
