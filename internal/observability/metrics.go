package observability

// metrics.go mirrors the no-op-or-Prometheus sink pattern used across
// the retrieval pack for instrumentation that must never allocate or
// branch expensively on a hot path when disabled. Unlike the pack's
// cache library, this service always registers metrics — a KV node is
// a long-running process where the /metrics endpoint is ambient, not
// opt-in.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every gauge/counter/histogram this node reports.
type Metrics struct {
	registry *prometheus.Registry

	CurrentView    prometheus.Gauge
	KeyCount       prometheus.Gauge
	GossipRounds   prometheus.Counter
	GossipFailures *prometheus.CounterVec
	ReshardTotal   prometheus.Counter
	ReshardSeconds prometheus.Histogram
	NacksTotal     prometheus.Counter
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		CurrentView: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "causalkv",
			Name:      "current_view",
			Help:      "Monotone view id this node is operating under.",
		}),
		KeyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "causalkv",
			Name:      "key_count",
			Help:      "Number of keys held locally by this shard replica.",
		}),
		GossipRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causalkv",
			Name:      "gossip_rounds_total",
			Help:      "Number of gossip ticks executed.",
		}),
		GossipFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "causalkv",
			Name:      "gossip_peer_failures_total",
			Help:      "Gossip dispatch failures per peer address.",
		}, []string{"peer"}),
		ReshardTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causalkv",
			Name:      "reshard_total",
			Help:      "Number of view changes completed by this node as coordinator.",
		}),
		ReshardSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "causalkv",
			Name:      "reshard_duration_seconds",
			Help:      "Wall-clock duration of a coordinated reshard.",
			Buckets:   prometheus.DefBuckets,
		}),
		NacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causalkv",
			Name:      "nacks_total",
			Help:      "Number of GETs refused for causal unsatisfiability.",
		}),
	}

	reg.MustRegister(
		m.CurrentView, m.KeyCount, m.GossipRounds, m.GossipFailures,
		m.ReshardTotal, m.ReshardSeconds, m.NacksTotal,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveReshard records a completed reshard's duration.
func (m *Metrics) ObserveReshard(d time.Duration) {
	m.ReshardTotal.Inc()
	m.ReshardSeconds.Observe(d.Seconds())
}
