package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pocketscreen/mobile-services/internal/webapi"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Provider API call rate. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Provider API latency per request. Watch for: p95 > 2s (upstream degradation), p99 > 5s (timeout risk).
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts against the provider. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal prometheus.Counter

	// Provider errors by stable category label.
	UpstreamErrorsTotal *prometheus.CounterVec

	// Cache hits and misses. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal prometheus.Counter

	// Cache backend failures by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Expired entries served because the upstream was down.
	StaleServesTotal prometheus.Counter

	// Cache warming runs, their duration, and runs with at least one failure.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram
	CacheWarmingErrorsTotal     prometheus.Counter

	// Lookups that piggybacked on another in-flight upstream call.
	CoalescedLookupsTotal prometheus.Counter

	// Total lookups served (cached or fetched).
	LookupsTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 open, 2 half-open) and transitions.
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	windowGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of weather provider API calls",
		},
		[]string{"status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weather provider API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather provider calls",
		},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weather provider errors by category",
		},
		[]string{"category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses (each triggers one coalesced upstream fetch)",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend failures by operation",
		},
		[]string{"operation", "category"},
	)
	StaleServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "staleCacheServesTotal",
			Help: "Expired cache entries served because the upstream was unavailable",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingRunsTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Duration of cache warming runs in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs where at least one location failed",
		},
	)
	CoalescedLookupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedLookupsTotal",
			Help: "Lookups that waited on another in-flight upstream call instead of fetching",
		},
	)
	LookupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherLookupsTotal",
			Help: "Total number of weather lookups",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal, UpstreamErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, StaleServesTotal,
		CacheWarmingTotal, CacheWarmingDurationSeconds, CacheWarmingErrorsTotal,
		CoalescedLookupsTotal, LookupsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// HTTPObserver adapts the registry's HTTP collectors to the shared metrics
// middleware. Wire it with webapi.MetricsMiddleware in main.
func HTTPObserver() webapi.RequestObserver {
	return webapi.RequestObserver{
		Started: func() { HTTPRequestsInFlight.Inc() },
		Finished: func(method, route, statusClass string, seconds float64) {
			HTTPRequestsInFlight.Dec()
			HTTPRequestsTotal.WithLabelValues(method, route, statusClass).Inc()
			HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
		},
	}
}

// RegisterWindowGauges registers load and rejects gauges for the rate-limited
// path. Call from main after config load with the overload window and the
// health tracker's count functions.
func RegisterWindowGauges(window time.Duration, requests, denials func(time.Duration) int) {
	windowGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(requests(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(denials(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition records one breaker state change.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerState updates the breaker state gauge for a component.
func SetCircuitBreakerState(component string, state float64) {
	CircuitBreakerState.WithLabelValues(component).Set(state)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
