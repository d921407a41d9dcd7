// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "postcode_lookup"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Lookup proxy metrics
	LookupsTotal       *prometheus.CounterVec
	RateLimitDenials   prometheus.Counter
	UsageWriteFailures *prometheus.CounterVec

	// External provider metrics
	ProviderRequestsTotal *prometheus.CounterVec
	ProviderDuration      *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// New creates and registers all metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "route"},
		),
		LookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lookup",
				Name:      "requests_total",
				Help:      "Postcode lookups by endpoint and outcome kind",
			},
			[]string{"endpoint", "outcome"},
		),
		RateLimitDenials: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lookup",
				Name:      "rate_limit_denials_total",
				Help:      "Lookups rejected by the per-account rate limiter",
			},
		),
		UsageWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "write_failures_total",
				Help:      "Usage records that could not be persisted",
			},
			[]string{"endpoint"},
		),
		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "requests_total",
				Help:      "Calls to external postcode/places providers",
			},
			[]string{"provider", "operation", "outcome"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "duration_seconds",
				Help:      "External provider call duration in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"provider", "operation"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"breaker"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Number of times a circuit breaker opened",
			},
			[]string{"breaker"},
		),
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordLookup records the final outcome of one lookup.
func (m *Metrics) RecordLookup(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordRateLimitDenial counts one throttled lookup.
func (m *Metrics) RecordRateLimitDenial() {
	if m == nil {
		return
	}
	m.RateLimitDenials.Inc()
}

// RecordUsageWriteFailure counts one lost usage record.
func (m *Metrics) RecordUsageWriteFailure(endpoint string) {
	if m == nil {
		return
	}
	m.UsageWriteFailures.WithLabelValues(endpoint).Inc()
}

// RecordProviderCall records one external provider call.
func (m *Metrics) RecordProviderCall(provider, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// SetCircuitBreakerState publishes a breaker state.
func (m *Metrics) SetCircuitBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordCircuitBreakerTrip counts a breaker opening.
func (m *Metrics) RecordCircuitBreakerTrip(breaker string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTrips.WithLabelValues(breaker).Inc()
}
