package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Lifecycle events handled, by event type and action taken.
	WidgetEventsTotal *prometheus.CounterVec

	// End-to-end event handling latency. Watch for: p99 approaching the event budget.
	WidgetEventDuration *prometheus.HistogramVec

	// Fetch pipeline results by source (remote, cache_fallback, default).
	FetchResultsTotal *prometheus.CounterVec

	// Remote fetch failures by category. Watch for: timeout spikes (provider slow).
	FetchFailuresTotal *prometheus.CounterVec

	// Sensor provider call latency by outcome.
	SensorAPIDuration *prometheus.HistogramVec

	// Sensor provider calls by HTTP status class.
	SensorAPICallsTotal *prometheus.CounterVec

	// Sensor provider retry attempts.
	SensorAPIRetriesTotal prometheus.Counter

	// Alert counter calls by HTTP status class.
	AlertAPICallsTotal *prometheus.CounterVec

	// Upstream calls shared between instances asking for the same sensor.
	FetchCoalescedTotal prometheus.Counter

	// Cache store operation failures by operation and backend.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache store operation latency.
	CacheOperationDuration *prometheus.HistogramVec

	// Steps skipped because the event budget was nearly exhausted (cache_write, render).
	BudgetSkipsTotal *prometheus.CounterVec

	// Render dispatches by variant and outcome.
	RenderTotal *prometheus.CounterVec

	// Navigation intents by target and outcome.
	NavigationTotal *prometheus.CounterVec

	// Last interval requested from the host scheduler.
	RequestedIntervalSeconds prometheus.Gauge

	// Interval policy queries that fell back to the normal interval.
	IntervalFallbackTotal prometheus.Counter

	// Circuit breaker state per component (0=closed, 1=open, 2=half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// HTTP request rate on the host adapter.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency on the host adapter.
	HTTPRequestDuration *prometheus.HistogramVec

	// Rate limit denials on the host adapter.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	SensorAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorApiRetriesTotal",
			Help: "Total sensor provider retry attempts",
		},
	)
	AlertAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertApiCallsTotal",
			Help: "Total alert counter calls by status",
		},
		[]string{"status"},
	)
	WidgetEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgetEventsTotal",
			Help: "Total number of widget lifecycle events handled",
		},
		[]string{"event", "action"},
	)
	WidgetEventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "widgetEventDurationSeconds",
			Help:    "Widget lifecycle event handling latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 8, 10},
		},
		[]string{"event"},
	)
	FetchResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchResultsTotal",
			Help: "Fetch pipeline results by snapshot source",
		},
		[]string{"source"},
	)
	FetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchFailuresTotal",
			Help: "Remote fetch failures by error category",
		},
		[]string{"category"},
	)
	SensorAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorApiDurationSeconds",
			Help:    "Sensor data provider latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 8},
		},
		[]string{"status"},
	)
	SensorAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorApiCallsTotal",
			Help: "Total number of sensor data provider calls",
		},
		[]string{"status"},
	)
	FetchCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchCoalescedTotal",
			Help: "Fetches that joined an in-flight upstream call for the same sensor",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache store operation failures",
		},
		[]string{"operation", "backend"},
	)
	CacheOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache store operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	BudgetSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetSkipsTotal",
			Help: "Optional steps skipped because the event budget was nearly exhausted",
		},
		[]string{"step"},
	)
	RenderTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderTotal",
			Help: "Render requests dispatched to the host",
		},
		[]string{"variant", "result"},
	)
	NavigationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigationTotal",
			Help: "Navigation intents emitted to the host",
		},
		[]string{"target", "result"},
	)
	RequestedIntervalSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "requestedIntervalSeconds",
			Help: "Update interval last requested from the host scheduler",
		},
	)
	IntervalFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intervalFallbackTotal",
			Help: "Power state queries that failed and fell back to the normal interval",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
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
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		WidgetEventsTotal, WidgetEventDuration,
		FetchResultsTotal, FetchFailuresTotal, FetchCoalescedTotal,
		SensorAPIDuration, SensorAPICallsTotal, SensorAPIRetriesTotal, AlertAPICallsTotal,
		CacheErrorsTotal, CacheOperationDuration,
		BudgetSkipsTotal, RenderTotal, NavigationTotal,
		RequestedIntervalSeconds, IntervalFallbackTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		HTTPRequestsTotal, HTTPRequestDuration, RateLimitDeniedTotal,
	)
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
