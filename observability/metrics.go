package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Feed refresh metrics
	FeedRefreshTotal    *prometheus.CounterVec
	FeedRefreshDuration *prometheus.HistogramVec

	// Live ticker metrics
	LiveConnectionState *prometheus.GaugeVec
	LiveReconnectsTotal *prometheus.CounterVec
	LiveTicksTotal      *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		// Feed refresh metrics
		FeedRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_pulse",
				Subsystem: "feed",
				Name:      "refresh_total",
				Help:      "Total number of scheduled feed refreshes",
			},
			[]string{"feed", "status"},
		),
		FeedRefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "market_pulse",
				Subsystem: "feed",
				Name:      "refresh_duration_seconds",
				Help:      "Duration of scheduled feed refreshes in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"feed"},
		),

		// Live ticker metrics
		LiveConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "market_pulse",
				Subsystem: "live",
				Name:      "connection_state",
				Help:      "Live ticker connection state (0=connecting, 1=open, 2=closed_clean, 3=closed_error)",
			},
			[]string{"symbol"},
		),
		LiveReconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_pulse",
				Subsystem: "live",
				Name:      "reconnects_total",
				Help:      "Total number of scheduled live ticker reconnects",
			},
			[]string{"symbol"},
		),
		LiveTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_pulse",
				Subsystem: "live",
				Name:      "ticks_total",
				Help:      "Total number of live ticker messages applied",
			},
			[]string{"symbol"},
		),

		// Notification metrics
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_pulse",
				Subsystem: "notifications",
				Name:      "synthesized_total",
				Help:      "Total number of synthesized notifications by category",
			},
			[]string{"category"},
		),

		// External API metrics
		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_pulse",
				Subsystem: "external_api",
				Name:      "requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"service", "operation"},
		),
		ExternalAPIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_pulse",
				Subsystem: "external_api",
				Name:      "errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"service", "operation", "error_type"},
		),
		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "market_pulse",
				Subsystem: "external_api",
				Name:      "duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"service", "operation"},
		),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_pulse",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "market_pulse",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "market_pulse",
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "market_pulse",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_pulse",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"service"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// RecordFeedRefresh records the outcome and duration of a scheduled refresh
func (m *Metrics) RecordFeedRefresh(feed, status string, duration time.Duration) {
	m.FeedRefreshTotal.WithLabelValues(feed, status).Inc()
	m.FeedRefreshDuration.WithLabelValues(feed).Observe(duration.Seconds())
}

// SetLiveConnectionState sets the exported state of a live ticker connection
func (m *Metrics) SetLiveConnectionState(symbol string, state float64) {
	m.LiveConnectionState.WithLabelValues(symbol).Set(state)
}

// RemoveLiveConnection drops the state series of a torn down connection
func (m *Metrics) RemoveLiveConnection(symbol string) {
	m.LiveConnectionState.DeleteLabelValues(symbol)
}

// RecordLiveReconnect records a scheduled reconnect
func (m *Metrics) RecordLiveReconnect(symbol string) {
	m.LiveReconnectsTotal.WithLabelValues(symbol).Inc()
}

// RecordLiveTick records an applied live price update
func (m *Metrics) RecordLiveTick(symbol string) {
	m.LiveTicksTotal.WithLabelValues(symbol).Inc()
}

// RecordNotification records a synthesized notification
func (m *Metrics) RecordNotification(category string) {
	m.NotificationsTotal.WithLabelValues(category).Inc()
}

// RecordExternalAPIRequest records an external API request
func (m *Metrics) RecordExternalAPIRequest(service, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordExternalAPIError records an external API error
func (m *Metrics) RecordExternalAPIError(service, operation, errorType string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordExternalAPIDuration records the duration of an external API call
func (m *Metrics) RecordExternalAPIDuration(service, operation string, duration time.Duration) {
	m.ExternalAPIDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(service string) {
	m.CircuitBreakerTrips.WithLabelValues(service).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObserveFeedRefresh records the refresh duration and status
func (t *Timer) ObserveFeedRefresh(feed, status string) {
	t.metrics.RecordFeedRefresh(feed, status, time.Since(t.start))
}

// ObserveExternalAPI records the external API duration
func (t *Timer) ObserveExternalAPI(service, operation string) {
	t.metrics.RecordExternalAPIDuration(service, operation, time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
