package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pocketscreen/mobile-services/internal/webapi"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Catalog mutations by operation. Watch for: write traffic shape.
	MovieMutationsTotal *prometheus.CounterVec

	// Store failures by operation. Watch for: backend outages (503s follow).
	StoreErrorsTotal *prometheus.CounterVec

	// Live feed subscribers and delivered events by type.
	FeedSubscribers prometheus.Gauge
	FeedEventsTotal *prometheus.CounterVec

	// Events dropped because a subscriber's buffer was full.
	FeedDroppedTotal prometheus.Counter

	// Connected websocket clients.
	WebsocketClients prometheus.Gauge

	// Kafka event publishes and async delivery failures.
	KafkaPublishedTotal     prometheus.Counter
	KafkaPublishErrorsTotal prometheus.Counter
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
	MovieMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movieMutationsTotal",
			Help: "Catalog mutations by operation",
		},
		[]string{"operation"},
	)
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeErrorsTotal",
			Help: "Catalog store failures by operation",
		},
		[]string{"operation"},
	)
	FeedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedSubscribers",
			Help: "Current number of live feed subscribers",
		},
	)
	FeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedEventsTotal",
			Help: "Feed events published by type",
		},
		[]string{"type"},
	)
	FeedDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedDroppedEventsTotal",
			Help: "Feed events dropped because a subscriber buffer was full",
		},
	)
	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocketClients",
			Help: "Currently connected websocket clients",
		},
	)
	KafkaPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kafkaEventsPublishedTotal",
			Help: "Catalog events handed to the Kafka producer",
		},
	)
	KafkaPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kafkaPublishErrorsTotal",
			Help: "Kafka deliveries reported failed by the async producer",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		MovieMutationsTotal, StoreErrorsTotal,
		FeedSubscribers, FeedEventsTotal, FeedDroppedTotal,
		WebsocketClients,
		KafkaPublishedTotal, KafkaPublishErrorsTotal,
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

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
