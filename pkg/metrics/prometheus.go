// Package metrics provides Prometheus metrics for the attestation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns the attestation service metrics.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Attestation outcomes
	attestationsMinted     prometheus.Counter
	attestationsIdempotent prometheus.Counter
	attestationsRejected   *prometheus.CounterVec
	attestLatency          prometheus.Histogram

	// Admission
	authFailures       prometheus.Counter
	rateLimitDenials   prometheus.Counter
	rateLimitRemaining prometheus.Histogram

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
	storeSwept   prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "eea",
		subsystem:        "attestation",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.attestationsMinted = m.counter("minted_total", "Total number of new attestations minted")
	m.attestationsIdempotent = m.counter("idempotent_total", "Total number of submissions answered from an existing attestation")
	m.attestationsRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "rejected_total",
		Help:        "Total number of rejected requests by error code",
		ConstLabels: m.constLabels,
	}, []string{"code"})
	m.attestLatency = m.histogram("attest_latency_milliseconds",
		"Latency of the attest pipeline from parse to persist in milliseconds", m.histogramBuckets)

	m.authFailures = m.counter("auth_failures_total", "Total number of requests with a missing or invalid API key")
	m.rateLimitDenials = m.counter("rate_limited_total", "Total number of requests denied by the per-tenant rate limit")
	m.rateLimitRemaining = m.histogram("rate_limit_remaining",
		"Remaining requests in the tenant window after admission",
		[]float64{0, 1, 5, 10, 25, 50, 100, 250, 1000})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "store_latency_milliseconds",
		Help:        "Store operation latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"op"})
	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "store_errors_total",
		Help:        "Total number of store operation failures",
		ConstLabels: m.constLabels,
	}, []string{"op"})
	m.storeSwept = m.counter("store_swept_total", "Total number of expired entries removed by the sweeper")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests by endpoint and method",
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordMinted increments the minted attestations counter.
func RecordMinted() {
	globalManager.attestationsMinted.Inc()
}

// RecordIdempotentHit increments the idempotent hit counter.
func RecordIdempotentHit() {
	globalManager.attestationsIdempotent.Inc()
}

// RecordRejected counts a rejected request under its error code.
func RecordRejected(code string) {
	globalManager.attestationsRejected.WithLabelValues(code).Inc()
}

// RecordAttestLatency records the attest pipeline latency in milliseconds.
func RecordAttestLatency(latencyMs float64) {
	globalManager.attestLatency.Observe(latencyMs)
}

// RecordAuthFailure increments the auth failure counter.
func RecordAuthFailure() {
	globalManager.authFailures.Inc()
}

// RecordRateLimited increments the rate limit denial counter.
func RecordRateLimited() {
	globalManager.rateLimitDenials.Inc()
}

// RecordRateLimitRemaining observes the remaining budget after an admitted request.
func RecordRateLimitRemaining(remaining int64) {
	globalManager.rateLimitRemaining.Observe(float64(remaining))
}

// RecordStoreLatency records a store operation latency in milliseconds.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) {
	globalManager.storeErrors.WithLabelValues(op).Inc()
}

// RecordStoreSwept adds n expired entries removed by a sweep.
func RecordStoreSwept(n int) {
	if n > 0 {
		globalManager.storeSwept.Add(float64(n))
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
