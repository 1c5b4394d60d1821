package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Admin API request rate by route and status class.
	HTTPRequestsTotal *prometheus.CounterVec

	// Admin API latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Admin API requests currently being served.
	HTTPRequestsInFlight prometheus.Gauge

	// Admin API requests denied by the token bucket (429).
	RateLimitDeniedTotal prometheus.Counter

	// Weather API attempts by endpoint and status. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Weather API latency per attempt. Watch for: p95 near the 10s request timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts per endpoint. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal *prometheus.CounterVec

	// Final request failures by category (transport, application, ...).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Times an outbound call had to wait for the sliding-window limiter.
	RateLimitWaitsTotal prometheus.Counter

	// Time spent blocked in the sliding-window limiter.
	RateLimitWaitSeconds prometheus.Histogram

	// Circuit breaker state transitions.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Circuit breaker state (0 closed, 1 half-open, 2 open).
	CircuitBreakerState *prometheus.GaugeVec

	// Poll cycles by trigger and outcome (success, failed, skipped).
	PollCyclesTotal *prometheus.CounterVec

	// Wall time of poll cycles that reached the network.
	PollCycleDuration *prometheus.HistogramVec

	// Cache backend operations by op and result.
	CacheBackendOpsTotal *prometheus.CounterVec

	// Malformed upstream fields replaced by a default, per channel.
	ChannelDefectsTotal *prometheus.CounterVec

	// Node availability as reported to the host (1 available, 0 unavailable).
	NodeAvailable *prometheus.GaugeVec

	// Last emitted numeric channel values.
	ChannelValue *prometheus.GaugeVec

	callWindowGaugeOnce sync.Once
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
			Help: "Total number of admin API requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "Admin API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of admin API requests currently being served",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of admin API requests denied by rate limiter (429)",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of WeatherAPI.com request attempts",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "WeatherAPI.com latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for WeatherAPI.com calls",
		},
		[]string{"endpoint"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "WeatherAPI.com requests that failed after retries, by category",
		},
		[]string{"category"},
	)
	RateLimitWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "callLimiterWaitsTotal",
			Help: "Outbound calls that blocked on the sliding-window limiter",
		},
	)
	RateLimitWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callLimiterWaitSeconds",
			Help:    "Time outbound calls spent blocked on the sliding-window limiter",
			Buckets: []float64{1, 5, 15, 30, 45, 60},
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"component"},
	)
	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollCyclesTotal",
			Help: "Poll cycles by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)
	PollCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pollCycleDurationSeconds",
			Help:    "Duration of poll cycles that reached the network",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"trigger"},
	)
	CacheBackendOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheBackendOpsTotal",
			Help: "Reading cache backend operations by op and result",
		},
		[]string{"op", "result"},
	)
	ChannelDefectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelDefectsTotal",
			Help: "Malformed upstream fields replaced by a default value",
		},
		[]string{"channel"},
	)
	NodeAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodeAvailable",
			Help: "Node availability reported to the host (1 available)",
		},
		[]string{"address"},
	)
	ChannelValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channelValue",
			Help: "Last emitted numeric channel value",
		},
		[]string{"address", "channel"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight, RateLimitDeniedTotal,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		RateLimitWaitsTotal, RateLimitWaitSeconds,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
		PollCyclesTotal, PollCycleDuration,
		CacheBackendOpsTotal, ChannelDefectsTotal,
		NodeAvailable, ChannelValue,
	)
}

// RegisterCallWindowGauge exposes the number of outbound calls in the limiter window.
// Only the first call registers; later calls are ignored.
func RegisterCallWindowGauge(inWindow func() int) {
	callWindowGaugeOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "callLimiterCallsInWindow",
					Help: "Outbound weather API calls inside the sliding window",
				},
				func() float64 { return float64(inWindow()) },
			),
		)
	})
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
