package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenAQ API call rate by outcome. Watch for: error vs success ratio.
	OpenAQCallsTotal *prometheus.CounterVec

	// OpenAQ API latency per attempt. Watch for: p95 approaching the client timeout.
	OpenAQDuration *prometheus.HistogramVec

	// Retry attempts against OpenAQ. Watch for: high retries = unstable upstream or remote throttling.
	OpenAQRetriesTotal prometheus.Counter

	// Final (post-retry) OpenAQ failures by category.
	OpenAQErrorsTotal *prometheus.CounterVec

	// Pages fetched per logical endpoint. Pages per request shows how wide dashboard queries are.
	OpenAQPagesTotal *prometheus.CounterVec

	// Cache hits by data kind. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses by data kind, including manual refreshes.
	CacheMissesTotal *prometheus.CounterVec

	// Entries dropped by the LRU bound. Watch for: steady evictions = bound too small.
	CacheEvictionsTotal prometheus.Counter

	// Callers that shared another caller's in-flight upstream fetch, by data kind.
	RequestsCoalescedTotal *prometheus.CounterVec

	// Cache backend failures by operation. The service degrades to the network path on these.
	CacheErrorsTotal *prometheus.CounterVec

	// Seconds spent blocked on the local quota.
	RateLimitWaitSecondsTotal prometheus.Counter

	// Requests refused by the local quota, by window.
	RateLimitDeniedTotal *prometheus.CounterVec

	// Inbound dashboard requests refused by the HTTP limiter.
	InboundRateLimitDeniedTotal prometheus.Counter

	// Upstream circuit breaker state (0 closed, 1 half-open, 2 open).
	CircuitBreakerState prometheus.Gauge

	// Malformed upstream payloads surfaced as empty results.
	DataErrorsTotal *prometheus.CounterVec

	// Cache warming runs and failures.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram
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
	OpenAQCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openaqApiCallsTotal",
			Help: "Total number of OpenAQ API attempts by outcome",
		},
		[]string{"status"},
	)
	OpenAQDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openaqApiDurationSeconds",
			Help:    "OpenAQ API latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	OpenAQRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openaqApiRetriesTotal",
			Help: "Total number of retry attempts for OpenAQ API calls",
		},
	)
	OpenAQErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openaqApiErrorsTotal",
			Help: "OpenAQ API failures after retries, by category",
		},
		[]string{"category"},
	)
	OpenAQPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openaqPagesFetchedTotal",
			Help: "Result pages fetched from OpenAQ by endpoint",
		},
		[]string{"endpoint"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits by data kind",
		},
		[]string{"kind"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses (including manual refreshes) by data kind",
		},
		[]string{"kind"},
	)
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Entries evicted by the LRU size bound",
		},
	)
	RequestsCoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestsCoalescedTotal",
			Help: "Cache misses served by another caller's in-flight fetch, by data kind",
		},
		[]string{"kind"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)
	RateLimitWaitSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitWaitSecondsTotal",
			Help: "Seconds spent waiting for the local OpenAQ quota window to reset",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Outbound requests refused by the local OpenAQ quota",
		},
		[]string{"scope"},
	)
	InboundRateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inboundRateLimitDeniedTotal",
			Help: "Dashboard requests denied by the HTTP rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "OpenAQ circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
	)
	DataErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataErrorsTotal",
			Help: "Malformed OpenAQ payloads served as empty results, by data kind",
		},
		[]string{"kind"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Duration of cache warming runs",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		OpenAQCallsTotal, OpenAQDuration, OpenAQRetriesTotal, OpenAQErrorsTotal, OpenAQPagesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheEvictionsTotal, CacheErrorsTotal, RequestsCoalescedTotal,
		RateLimitWaitSecondsTotal, RateLimitDeniedTotal, InboundRateLimitDeniedTotal,
		CircuitBreakerState, DataErrorsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
	)
}

// CircuitBreakerStateValue maps a breaker state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
