// Package metrics provides Prometheus instrumentation for the resilience
// layer. All metric collectors are registered via the Init function and
// exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts backend operation attempts by backend and outcome.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_operations_total",
			Help: "Total backend operation attempts",
		},
		[]string{"backend", "outcome"},
	)

	// OperationDuration observes per-attempt operation latency in seconds.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datagate_operation_duration_seconds",
			Help:    "Backend operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// PoolInFlight tracks occupied pool permits per backend.
	PoolInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datagate_pool_in_flight",
			Help: "Occupied connection pool permits",
		},
		[]string{"backend"},
	)

	// PoolExhaustions counts admission timeouts per backend.
	PoolExhaustions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_pool_exhaustions_total",
			Help: "Total pool admission timeouts",
		},
		[]string{"backend"},
	)

	// RetriesTotal counts retry attempts per backend.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_retries_total",
			Help: "Total retry attempts",
		},
		[]string{"backend"},
	)

	// BreakerState exposes the current circuit breaker state per backend
	// (0 = closed, 1 = open, 2 = half-open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datagate_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	// BreakerStateChanges counts breaker transitions by backend and edge.
	BreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"backend", "from", "to"},
	)

	// BreakerRejections counts calls denied by an open breaker.
	BreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_circuit_breaker_rejections_total",
			Help: "Total calls rejected by an open circuit breaker",
		},
		[]string{"backend"},
	)

	// CacheHits counts result cache hits per backend.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_cache_hits_total",
			Help: "Total result cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses counts result cache misses per backend.
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_cache_misses_total",
			Help: "Total result cache misses",
		},
		[]string{"backend"},
	)

	// CacheEvictions counts capacity evictions per backend.
	CacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_cache_evictions_total",
			Help: "Total result cache capacity evictions",
		},
		[]string{"backend"},
	)

	// CacheSize tracks the current number of cached entries per backend.
	CacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datagate_cache_size",
			Help: "Current result cache entry count",
		},
		[]string{"backend"},
	)

	// RateLimitRejections counts rate-limited calls per backend.
	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_rate_limit_rejections_total",
			Help: "Total calls rejected by the per-backend rate limiter",
		},
		[]string{"backend"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before executing operations.
func Init() {
	prometheus.MustRegister(
		OperationsTotal,
		OperationDuration,
		PoolInFlight,
		PoolExhaustions,
		RetriesTotal,
		BreakerState,
		BreakerStateChanges,
		BreakerRejections,
		CacheHits,
		CacheMisses,
		CacheEvictions,
		CacheSize,
		RateLimitRejections,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
