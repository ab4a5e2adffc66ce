// Package metrics exports Prometheus metrics for the records client, the
// entity cache and the reference index.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/pkg/circuitbreaker"
)

// Config holds configuration for the metrics registry.
type Config struct {
	// Namespace prefixes every metric. Default: "recordsync".
	Namespace string

	// HistogramBuckets are the buckets for duration histograms.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64

	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:         "recordsync",
		HistogramBuckets:  prometheus.DefBuckets,
		RuntimeCollectors: true,
	}
}

// Metrics owns a private registry and every collector of the service.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheLoads      *prometheus.CounterVec
	loadDuration    *prometheus.HistogramVec
	cachedRecords   *prometheus.GaugeVec
	referenceChecks *prometheus.CounterVec
	breakerState    prometheus.Gauge
	prefetchRuns    *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "recordsync"
	}
	if len(cfg.HistogramBuckets) == 0 {
		cfg.HistogramBuckets = prometheus.DefBuckets
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Requests sent to the records API by operation, kind and outcome.",
		},
		[]string{"op", "kind", "outcome"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Duration of records API requests in seconds.",
			Buckets:   cfg.HistogramBuckets,
		},
		[]string{"op", "kind"},
	)
	m.cacheLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "loads_total",
			Help:      "Cache loads by kind and outcome (applied, failed, superseded).",
		},
		[]string{"kind", "outcome"},
	)
	m.loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "load_duration_seconds",
			Help:      "Duration of cache loads in seconds.",
			Buckets:   cfg.HistogramBuckets,
		},
		[]string{"kind"},
	)
	m.cachedRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "records",
			Help:      "Records currently cached per kind.",
		},
		[]string{"kind"},
	)
	m.referenceChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "refindex",
			Name:      "checks_total",
			Help:      "Reference checks by kind and outcome (hit, refreshed, missing, error).",
		},
		[]string{"kind", "outcome"},
	)
	m.breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "remote",
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		},
	)
	m.prefetchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "scheduler",
			Name:      "prefetch_runs_total",
			Help:      "Background prefetch runs by outcome.",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.cacheLoads,
		m.loadDuration,
		m.cachedRecords,
		m.referenceChecks,
		m.breakerState,
		m.prefetchRuns,
	)
	if cfg.RuntimeCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one records API request.
func (m *Metrics) ObserveRequest(op string, kind records.Kind, outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(op, string(kind), outcome).Inc()
	m.requestDuration.WithLabelValues(op, string(kind)).Observe(d.Seconds())
}

// ObserveLoad records one cache load. It has the cache load hook signature.
func (m *Metrics) ObserveLoad(kind records.Kind, outcome string, d time.Duration) {
	m.cacheLoads.WithLabelValues(string(kind), outcome).Inc()
	m.loadDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// ObserveSnapshot tracks the size of a committed snapshot. It has the cache
// observer signature.
func (m *Metrics) ObserveSnapshot(kind records.Kind, snapshot []records.Record) {
	m.cachedRecords.WithLabelValues(string(kind)).Set(float64(len(snapshot)))
}

// ObserveCheck records one reference check. It has the refindex hook
// signature.
func (m *Metrics) ObserveCheck(kind records.Kind, outcome string) {
	m.referenceChecks.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveBreaker tracks circuit breaker transitions.
func (m *Metrics) ObserveBreaker(_ string, _, to circuitbreaker.State) {
	m.breakerState.Set(float64(to))
}

// ObservePrefetch records one background prefetch run.
func (m *Metrics) ObservePrefetch(outcome string) {
	m.prefetchRuns.WithLabelValues(outcome).Inc()
}
