// Package metrics exports coordinator telemetry in Prometheus format.
//
// All Record* methods are safe on a nil *PrometheusExporter so components can
// run without observability wired in.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "hybrid"
	subsystem = "coordinator"
)

// PrometheusExporter exports coordinator metrics.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Request path
	queries        *prometheus.CounterVec
	queryLatency   *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	relevance      prometheus.Histogram
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec
	tokens         *prometheus.CounterVec
	tokensSaved    prometheus.Counter

	// Bookkeeping path
	records       *prometheus.CounterVec
	valueScores   prometheus.Histogram
	patterns      *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	gcDeleted     *prometheus.CounterVec
	gcDuration    *prometheus.HistogramVec
	gcFailures    *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func unitHistogram(name, help string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	latency := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   cfg.LatencyBuckets,
		}, labels)
	}

	e := &PrometheusExporter{
		registry:       registry,
		queries:        counterVec("queries_total", "Queries answered or failed, by route taken", "route", "status"),
		queryLatency:   latency("query_latency_seconds", "End-to-end query latency in seconds", "route"),
		cacheLookups:   counterVec("cache_lookups_total", "Semantic cache lookups by result", "result"),
		relevance:      unitHistogram("context_relevance", "Context bundle relevance score"),
		backendCalls:   counterVec("backend_calls_total", "Backend generate calls", "backend", "status"),
		backendLatency: latency("backend_latency_seconds", "Backend generate latency in seconds", "backend"),
		fallbacks:      counterVec("backend_fallbacks_total", "Fallbacks from one backend to the other", "from", "to"),
		tokens:         counterVec("tokens_total", "Tokens spent per backend", "backend"),
		tokensSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_saved_total",
			Help:      "Tokens not spent because the cache answered",
		}),
		records:       counterVec("records_total", "Interaction records by write status", "status"),
		valueScores:   unitHistogram("value_score", "Finalized interaction value scores"),
		patterns:      counterVec("patterns_total", "Pattern extraction results", "result"),
		eventsDropped: counterVec("events_dropped_total", "Events dropped from a full subscriber queue", "subscriber"),
		gcDeleted:     counterVec("gc_deleted_total", "Items deleted by garbage collection pass", "pass"),
		gcDuration:    latency("gc_pass_duration_seconds", "Garbage collection pass duration in seconds", "pass"),
		gcFailures:    counterVec("gc_pass_failures_total", "Failed garbage collection passes", "pass"),
	}

	registry.MustRegister(
		e.queries,
		e.queryLatency,
		e.cacheLookups,
		e.relevance,
		e.backendCalls,
		e.backendLatency,
		e.fallbacks,
		e.tokens,
		e.tokensSaved,
		e.records,
		e.valueScores,
		e.patterns,
		e.eventsDropped,
		e.gcDeleted,
		e.gcDuration,
		e.gcFailures,
	)

	return e
}

// RegisterGaugeFunc exposes a value computed at scrape time.
func (e *PrometheusExporter) RegisterGaugeFunc(name, help string, fn func() float64) {
	if e == nil {
		return
	}
	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// RecordQuery records a finished query. route is empty when the query failed.
func (e *PrometheusExporter) RecordQuery(route string, latency time.Duration, success bool) {
	if e == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
		route = "none"
	}
	e.queries.WithLabelValues(route, status).Inc()
	e.queryLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordCacheLookup records "hit", "miss" or "unavailable".
func (e *PrometheusExporter) RecordCacheLookup(result string) {
	if e == nil {
		return
	}
	e.cacheLookups.WithLabelValues(result).Inc()
}

// RecordTokensSaved records tokens a cache hit avoided.
func (e *PrometheusExporter) RecordTokensSaved(count int64) {
	if e == nil || count <= 0 {
		return
	}
	e.tokensSaved.Add(float64(count))
}

func (e *PrometheusExporter) RecordRelevance(score float64) {
	if e == nil {
		return
	}
	e.relevance.Observe(score)
}

// RecordBackendCall records one generate call and the tokens it spent.
func (e *PrometheusExporter) RecordBackendCall(backend string, latency time.Duration, tokens int64, err error) {
	if e == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.backendCalls.WithLabelValues(backend, status).Inc()
	e.backendLatency.WithLabelValues(backend).Observe(latency.Seconds())
	if tokens > 0 {
		e.tokens.WithLabelValues(backend).Add(float64(tokens))
	}
}

func (e *PrometheusExporter) RecordFallback(from, to string) {
	if e == nil {
		return
	}
	e.fallbacks.WithLabelValues(from, to).Inc()
}

// RecordInteraction records a durable write attempt.
func (e *PrometheusExporter) RecordInteraction(success bool) {
	if e == nil {
		return
	}
	status := "written"
	if !success {
		status = "failed"
	}
	e.records.WithLabelValues(status).Inc()
}

func (e *PrometheusExporter) ObserveValueScore(score float64) {
	if e == nil {
		return
	}
	e.valueScores.Observe(score)
}

// RecordPattern records "created", "exists", "below_threshold" or "failed".
func (e *PrometheusExporter) RecordPattern(result string) {
	if e == nil {
		return
	}
	e.patterns.WithLabelValues(result).Inc()
}

func (e *PrometheusExporter) RecordEventDropped(subscriber string) {
	if e == nil {
		return
	}
	e.eventsDropped.WithLabelValues(subscriber).Inc()
}

// RecordGCPass records the result of one garbage collection pass.
func (e *PrometheusExporter) RecordGCPass(pass string, deleted int, duration time.Duration, err error) {
	if e == nil {
		return
	}
	e.gcDuration.WithLabelValues(pass).Observe(duration.Seconds())
	if deleted > 0 {
		e.gcDeleted.WithLabelValues(pass).Add(float64(deleted))
	}
	if err != nil {
		e.gcFailures.WithLabelValues(pass).Inc()
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
