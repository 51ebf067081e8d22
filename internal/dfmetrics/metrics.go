// Package dfmetrics exposes the Prometheus collectors shared across
// DataFold's subsystems, plus a Timer helper, following the same
// var-block-plus-init()-registration shape the teacher repo uses for its
// cluster metrics.
package dfmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	BusEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datafold_bus_events_published_total",
			Help: "Total number of events published on the internal bus by type",
		},
		[]string{"event_type"},
	)

	BusSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datafold_bus_subscribers",
			Help: "Current number of live subscribers by event type",
		},
		[]string{"event_type"},
	)

	BusRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datafold_bus_request_duration_seconds",
			Help:    "Duration of request/reply round trips over the bus",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"request_type"},
	)

	BusDeadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datafold_bus_dead_letters_total",
			Help: "Total events that exhausted their retry budget",
		},
		[]string{"event_type"},
	)

	// Transform metrics
	TransformQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datafold_transform_queue_depth",
			Help: "Number of transform ids currently queued",
		},
	)

	TransformExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datafold_transform_executions_total",
			Help: "Total transform executions by result",
		},
		[]string{"result"},
	)

	TransformDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datafold_transform_duration_seconds",
			Help:    "Time taken to execute a transform",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Atom/schema metrics
	AtomsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datafold_atoms_created_total",
			Help: "Total atoms created",
		},
	)

	SchemasByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datafold_schemas_by_state",
			Help: "Number of loaded schemas by lifecycle state",
		},
		[]string{"state"},
	)

	// Query/mutation metrics
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datafold_query_duration_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"schema"},
	)

	MutationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datafold_mutation_duration_seconds",
			Help:    "Mutation execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"schema"},
	)

	// Signature-auth metrics
	AuthRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datafold_auth_requests_total",
			Help: "Total authenticated requests by outcome",
		},
		[]string{"outcome"},
	)

	AuthLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datafold_auth_latency_seconds",
			Help:    "Signature validation latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"outcome"},
	)

	NonceStoreUtilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datafold_nonce_store_utilization_ratio",
			Help: "Fraction of the nonce store capacity currently in use",
		},
	)

	KeyCacheHitRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datafold_key_cache_hit_ratio",
			Help: "Rolling hit ratio of the public-key LRU cache",
		},
	)

	AttackPatternsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datafold_attack_patterns_detected_total",
			Help: "Total attack patterns flagged by the attack detector",
		},
		[]string{"pattern"},
	)
)

func init() {
	prometheus.MustRegister(
		BusEventsPublished,
		BusSubscribers,
		BusRequestDuration,
		BusDeadLetters,
		TransformQueueDepth,
		TransformExecutions,
		TransformDuration,
		AtomsCreated,
		SchemasByState,
		QueryDuration,
		MutationDuration,
		AuthRequestsTotal,
		AuthLatency,
		NonceStoreUtilization,
		KeyCacheHitRatio,
		AttackPatternsDetected,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations and recording them against a
// histogram once the operation completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time against a plain histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Milliseconds returns the elapsed time in milliseconds, the unit spec.md
// uses for QueryExecuted/MutationExecuted observability events.
func (t *Timer) Milliseconds() int64 {
	return time.Since(t.start).Milliseconds()
}
