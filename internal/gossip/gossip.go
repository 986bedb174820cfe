// Package gossip implements the periodic anti-entropy loop that
// reconciles a shard's replicas without blocking the request path
// (spec.md §4.4, C6). The engine never touches a node's state directly —
// it drives an injected Node accessor so the mutation itself still
// happens under the single state mutex described in spec.md §5.
package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"causalkv/internal/causal"
	"causalkv/internal/clock"
	"causalkv/internal/observability"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Payload is the wire format exchanged between replicas in a shard
// (spec.md §4.4, §6).
type Payload struct {
	Items           map[string]string         `json:"items"`
	ItemHistory     map[string]causal.History `json:"item_history"`
	UpdatedKeyTimes causal.History             `json:"updated_key_times"`
	VectorClock     clock.VectorClock          `json:"vector_clock"`
	Address         string                     `json:"address"`
}

// Node is the subset of internal/node.Handler the gossip engine needs.
// Keeping it as an interface here (rather than importing internal/node)
// avoids a dependency cycle: internal/node imports this package for
// Payload and implements this interface, while this package never
// imports internal/node.
type Node interface {
	Address() string
	ShardPeers() []string
	BuildOutbound() Payload
	HandleInbound(sender Payload) (Payload, bool)
	ApplyPeerResponse(peerAddr string, resp Payload)
	MarkDown(peerAddr string)
	ClearBetweenGossipUpdates()
}

// Engine runs the periodic gossip tick for one node.
type Engine struct {
	node     Node
	client   *http.Client
	interval time.Duration
	timeout  time.Duration

	// clearOnFullAck implements spec.md §9 open question 1: clear
	// between_gossip_updates once every shard peer acks in the same
	// round. Defaults to false, matching the spec's safe default.
	clearOnFullAck bool

	log     *zap.Logger
	metrics *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterval overrides the ~1s default tick, primarily for tests.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithClearOnFullAck enables the disabled-by-default optimization.
func WithClearOnFullAck(enabled bool) Option {
	return func(e *Engine) { e.clearOnFullAck = enabled }
}

// New builds a gossip Engine over node, logging through log and
// reporting through metrics.
func New(node Node, log *zap.Logger, metrics *observability.Metrics, opts ...Option) *Engine {
	e := &Engine{
		node:     node,
		client:   &http.Client{},
		interval: time.Second,
		timeout:  500 * time.Millisecond,
		log:      log,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run ticks every e.interval until ctx is cancelled, running one gossip
// round per tick (spec.md §4.4: "every ~1 second, cooperatively, not
// per-request").
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.round(ctx)
		}
	}
}

// round executes one outbound gossip fan-out: build the payload once,
// dispatch to every shard peer concurrently with a per-peer timeout,
// and apply whatever comes back (spec.md §4.4 outbound + outbound
// completion).
func (e *Engine) round(ctx context.Context) {
	peers := e.node.ShardPeers()
	if len(peers) == 0 {
		return
	}
	if e.metrics != nil {
		e.metrics.GossipRounds.Inc()
	}

	payload := e.node.BuildOutbound()

	g, gctx := errgroup.WithContext(ctx)
	acked := make([]bool, len(peers))
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			resp, ok := e.dispatch(cctx, peer, payload)
			if !ok {
				e.node.MarkDown(peer)
				if e.metrics != nil {
					e.metrics.GossipFailures.WithLabelValues(peer).Inc()
				}
				if e.log != nil {
					e.log.Warn("gossip peer unreachable", zap.String("peer", peer))
				}
				return nil
			}
			acked[i] = true
			e.node.ApplyPeerResponse(peer, resp)
			return nil
		})
	}
	_ = g.Wait() // best-effort: failures are absorbed, never raised (spec.md §7)

	if e.clearOnFullAck && allTrue(acked) {
		e.node.ClearBetweenGossipUpdates()
	}
}

// dispatch sends payload to peer's /kvs/gossip and decodes the
// response. ok is false on any transport error, non-200 status, or a
// 404 (peer doesn't recognize us as a shard member — spec.md §4.4
// inbound: "if sender not in my shard, return 404").
func (e *Engine) dispatch(ctx context.Context, peer string, payload Payload) (Payload, bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Payload{}, false
	}

	url := fmt.Sprintf("http://%s/kvs/gossip", peer)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, bytes.NewReader(body))
	if err != nil {
		return Payload{}, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Payload{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Payload{}, false
	}

	var out Payload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Payload{}, false
	}
	return out, true
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}
