package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. Each gateway instance
// owns its registry so tests can build fresh gateways without collector
// name collisions.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimitDenied *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	routeCount      *prometheus.GaugeVec
	registryUp      prometheus.Gauge
}

// NewMetrics creates and registers the gateway collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_requests_total",
				Help: "Total number of proxied requests",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hermes_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		rateLimitDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_rate_limit_denied_total",
				Help: "Requests denied by the rate limiter",
			},
			[]string{"scope"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hermes_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"target"},
		),
		routeCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hermes_routes",
				Help: "Number of installed routes",
			},
			[]string{"source"},
		),
		registryUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hermes_registry_up",
				Help: "Whether the last registry refresh succeeded",
			},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.rateLimitDenied,
		m.breakerState,
		m.routeCount,
		m.registryUp,
	)
	return m
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(routeID, method string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(routeID, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(routeID).Observe(duration.Seconds())
}

// RecordRateLimitDenied records a limiter denial by scope.
func (m *Metrics) RecordRateLimitDenied(scope string) {
	m.rateLimitDenied.WithLabelValues(scope).Inc()
}

// SetBreakerState records a breaker's state for a target.
func (m *Metrics) SetBreakerState(target string, state int) {
	m.breakerState.WithLabelValues(target).Set(float64(state))
}

// SetRouteCounts records the installed route counts.
func (m *Metrics) SetRouteCounts(remote, local int) {
	m.routeCount.WithLabelValues("remote").Set(float64(remote))
	m.routeCount.WithLabelValues("local").Set(float64(local))
}

// SetRegistryUp records registry reachability.
func (m *Metrics) SetRegistryUp(up bool) {
	if up {
		m.registryUp.Set(1)
	} else {
		m.registryUp.Set(0)
	}
}
