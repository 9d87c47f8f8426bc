package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "etsy_scraper"

// Metrics exposes fetch, session and dataset activity on its own registry.
// A nil *Metrics records nothing, so callers never need to check for one.
type Metrics struct {
	Registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	retries   prometheus.Counter
	failures  *prometheus.CounterVec
	blocks    prometheus.Counter
	rotations *prometheus.CounterVec
	saved     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetches_total",
			Help:      "Page fetches by HTTP status text, or \"error\" when no response arrived.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_seconds",
			Help:      "Time from issuing a fetch to its response or failure.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_retries_total",
			Help:      "Fetches repeated after a transient failure.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_failures_total",
			Help:      "Failed fetch attempts by failure kind.",
		}, []string{"error_type"}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blocks_total",
			Help:      "Responses recognised as bot-detection challenges.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_rotations_total",
			Help:      "Sessions discarded and rebuilt, by trigger.",
		}, []string{"reason"}),
		saved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_saved_total",
			Help:      "New rows appended to each dataset.",
		}, []string{"dataset"}),
	}
	m.Registry.MustRegister(m.requests, m.latency, m.retries, m.failures, m.blocks, m.rotations, m.saved)
	return m
}

// RecordFetch counts one fetch and its latency under outcome.
func (m *Metrics) RecordFetch(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.latency.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) RecordFailure(errorType string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordBlock() {
	if m == nil {
		return
	}
	m.blocks.Inc()
}

func (m *Metrics) RecordRotation(reason string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(reason).Inc()
}

// RecordSaved adds n rows to dataset's total; n <= 0 is ignored.
func (m *Metrics) RecordSaved(dataset string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.saved.WithLabelValues(dataset).Add(float64(n))
}
