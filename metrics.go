package devrev

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// reliability layers. All methods are nil-safe so instrumentation can be
// disabled by simply not configuring a collector.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	breakerState    *prometheus.GaugeVec
	breakerRejected *prometheus.CounterVec

	rateLimitWaits *prometheus.CounterVec

	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	cacheValidations *prometheus.CounterVec
	cacheSize        *prometheus.GaugeVec

	poolInUse     *prometheus.GaugeVec
	poolExhausted *prometheus.CounterVec

	deduplicationHits *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegisterer creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegisterer(reg prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devrev_client_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devrev_client_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "class"},
		),
		breakerState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devrev_client_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"target"},
		),
		breakerRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_circuit_breaker_rejected_total",
				Help: "Total number of requests rejected by an open circuit",
			},
			[]string{"target"},
		),
		rateLimitWaits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_rate_limit_waits_total",
				Help: "Total number of waits imposed by server rate limit hints",
			},
			[]string{"endpoint"},
		),
		cacheHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_cache_hits_total",
				Help: "Total number of conditional cache hits (304 responses)",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_cache_misses_total",
				Help: "Total number of requests with no usable cache entry",
			},
			[]string{"method", "endpoint"},
		),
		cacheValidations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_cache_validations_total",
				Help: "Total number of conditional requests issued",
			},
			[]string{"method", "endpoint"},
		),
		cacheSize: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devrev_client_cache_size",
				Help: "Current number of entries in the conditional cache",
			},
			[]string{"name"},
		),
		poolInUse: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devrev_client_pool_in_use",
				Help: "Number of connection slots currently held",
			},
			[]string{"name"},
		),
		poolExhausted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_pool_exhausted_total",
				Help: "Total number of requests that timed out waiting for a connection slot",
			},
			[]string{"name"},
		),
		deduplicationHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_deduplication_hits_total",
				Help: "Total number of requests coalesced onto an in-flight call",
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "devrev_client_errors_total",
				Help: "Total number of errors surfaced to callers",
			},
			[]string{"type", "method", "endpoint"},
		),
		registerer: reg,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, code, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, code, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry counts a retry attempt, labeled by the outcome class that
// caused it.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, class StatusClass) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, class.String()).Inc()
}

// RecordBreakerState publishes the current state of a breaker target.
func (mc *MetricsCollector) RecordBreakerState(target string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.breakerState.WithLabelValues(target).Set(float64(state))
}

// RecordBreakerRejected counts a request rejected by an open circuit.
func (mc *MetricsCollector) RecordBreakerRejected(target string) {
	if mc == nil {
		return
	}
	mc.breakerRejected.WithLabelValues(target).Inc()
}

// RecordRateLimitWait counts a wait imposed by a server rate-limit hint.
func (mc *MetricsCollector) RecordRateLimitWait(endpoint string) {
	if mc == nil {
		return
	}
	mc.rateLimitWaits.WithLabelValues(endpoint).Inc()
}

// RecordCacheHit counts a 304 served from the cache.
func (mc *MetricsCollector) RecordCacheHit(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheMiss counts a cacheable request with no stored entry.
func (mc *MetricsCollector) RecordCacheMiss(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheValidation counts a conditional request issued.
func (mc *MetricsCollector) RecordCacheValidation(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheValidations.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheSize publishes the current cache entry count.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordPoolInUse publishes the number of held connection slots.
func (mc *MetricsCollector) RecordPoolInUse(name string, inUse int) {
	if mc == nil {
		return
	}
	mc.poolInUse.WithLabelValues(name).Set(float64(inUse))
}

// RecordPoolExhausted counts a pool acquisition timeout.
func (mc *MetricsCollector) RecordPoolExhausted(name string) {
	if mc == nil {
		return
	}
	mc.poolExhausted.WithLabelValues(name).Inc()
}

// RecordDeduplicationHit counts a request coalesced onto an in-flight call.
func (mc *MetricsCollector) RecordDeduplicationHit(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.deduplicationHits.WithLabelValues(method, endpoint).Inc()
}

// RecordError counts an error surfaced to a caller.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}
