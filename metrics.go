package chatsync

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// the dedup/cache layers and the polling sessions. It is safe for concurrent
// use; a nil collector is a no-op everywhere.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	dedupHits *prometheus.CounterVec

	pollsTotal      *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionOutcomes *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer. Tests pass a fresh prometheus.NewRegistry.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_requests_total",
				Help: "Total number of logical requests resolved",
			},
			[]string{"method", "status_code", "path"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatsync_request_duration_seconds",
				Help:    "Duration of logical requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "path"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatsync_requests_in_flight",
				Help: "Number of transport calls currently in flight",
			},
			[]string{"method", "path"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"method", "path"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"method", "path"},
		),
		cacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatsync_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"name"},
		),
		dedupHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_dedup_hits_total",
				Help: "Total number of callers that joined an in-flight request",
			},
			[]string{"method", "path"},
		),
		pollsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_polls_total",
				Help: "Total number of awaiter poll attempts",
			},
			[]string{"result"},
		),
		sessionsActive: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_sessions_active",
				Help: "Number of polling sessions currently active",
			},
		),
		sessionOutcomes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_session_outcomes_total",
				Help: "Terminal session states by outcome",
			},
			[]string{"state"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "path"},
		),
	}

	if reg, ok := registry.(*prometheus.Registry); ok {
		mc.registry = reg
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, path).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, path).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, path string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, path).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, path string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, path).Dec()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(method, path string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(method, path).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(method, path string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(method, path).Inc()
}

// RecordCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordDedupHit increments the in-flight join counter.
func (mc *MetricsCollector) RecordDedupHit(method, path string) {
	if mc == nil {
		return
	}

	mc.dedupHits.WithLabelValues(method, path).Inc()
}

// RecordPoll increments the poll counter by result.
func (mc *MetricsCollector) RecordPoll(ok bool) {
	if mc == nil {
		return
	}

	result := "ok"
	if !ok {
		result = "error"
	}
	mc.pollsTotal.WithLabelValues(result).Inc()
}

// RecordSessionStart increments the active session gauge.
func (mc *MetricsCollector) RecordSessionStart() {
	if mc == nil {
		return
	}

	mc.sessionsActive.Inc()
}

// RecordSessionEnd decrements the active session gauge and counts the
// terminal state.
func (mc *MetricsCollector) RecordSessionEnd(state SessionState) {
	if mc == nil {
		return
	}

	mc.sessionsActive.Dec()
	mc.sessionOutcomes.WithLabelValues(state.String()).Inc()
}

// RecordError increments the error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, path string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, path).Inc()
}

// GetRegistry exposes the underlying prometheus registry when the collector
// was built on one.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	return mc.registry
}
