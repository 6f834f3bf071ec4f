package are

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus collectors the pump and executor report
// through, grounded on the teacher's PrometheusMetrics (graph/metrics.go)
// promauto pattern, generalized from per-run graph metrics to per-guardian
// ones and renamed to the "guardian" namespace.
type Metrics struct {
	MessagesTotal     *prometheus.CounterVec
	CheckpointSeconds prometheus.Histogram
	InflightWorkers   prometheus.Gauge
	QueueDepth        prometheus.Gauge
	RetriesTotal      prometheus.Counter
	BackpressureTotal prometheus.Counter
	ElectionsTotal    prometheus.Counter
}

// NewMetrics registers the guardian runtime's collectors against reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// *prometheus.Registry in tests to avoid cross-test collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "pump",
			Name:      "messages_total",
			Help:      "Messages dispatched by the pump, by tag.",
		}, []string{"tag"}),
		CheckpointSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "guardian",
			Subsystem: "pump",
			Name:      "checkpoint_seconds",
			Help:      "Latency of context checkpoint writes after non-idle dispatch.",
			Buckets:   prometheus.DefBuckets,
		}),
		InflightWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "guardian",
			Subsystem: "executor",
			Name:      "inflight_workers",
			Help:      "Worker-pool slots currently executing user work.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "guardian",
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Pending items in the worker-pool dispatch queue.",
		}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "executor",
			Name:      "retries_total",
			Help:      "HTTP retries performed by user-facing helper clients.",
		}),
		BackpressureTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "executor",
			Name:      "backpressure_events_total",
			Help:      "Times the worker-pool dispatch queue was full and a producer blocked.",
		}),
		ElectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "ha",
			Name:      "elections_total",
			Help:      "Leader-election evaluations performed by this replica.",
		}),
	}
}
