// Package metrics holds the Prometheus instruments shared across components.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "concierge"

// Metrics groups every collector the service exports. A nil *Metrics
// records nothing.
type Metrics struct {
	RequestDuration   *prometheus.HistogramVec
	RequestsTotal     *prometheus.CounterVec
	RateLimitDecision *prometheus.CounterVec
	CacheRefreshes    *prometheus.CounterVec
	GeneratorErrors   *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	ActiveSessions    prometheus.Gauge
	PersistDropped    prometheus.Counter
}

// New registers all collectors on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of timed requests in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"endpoint", "success"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Timed requests by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		RateLimitDecision: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions.",
		}, []string{"decision"}),
		CacheRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_cache_refreshes_total",
			Help:      "Context cache refresh attempts by outcome.",
		}, []string{"outcome"}),
		GeneratorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_errors_total",
			Help:      "External generator failures by category.",
		}, []string{"provider", "category"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generator_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Conversation sessions held in memory.",
		}),
		PersistDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latency_persist_dropped_total",
			Help:      "Latency samples dropped because the persistence queue was full.",
		}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(endpoint string, d time.Duration, success bool, status int) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(endpoint, strconv.FormatBool(success)).Observe(d.Seconds())
	m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// RateLimit records an allow/deny/error decision.
func (m *Metrics) RateLimit(decision string) {
	if m == nil {
		return
	}
	m.RateLimitDecision.WithLabelValues(decision).Inc()
}

// CacheRefresh records a refresh outcome: "ok", "stale" or "default".
func (m *Metrics) CacheRefresh(outcome string) {
	if m == nil {
		return
	}
	m.CacheRefreshes.WithLabelValues(outcome).Inc()
}

// GeneratorError records a categorized generator failure.
func (m *Metrics) GeneratorError(provider, category string) {
	if m == nil {
		return
	}
	m.GeneratorErrors.WithLabelValues(provider, category).Inc()
}

// SetBreakerState publishes a breaker state as 0, 1 or 2.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// SetActiveSessions publishes the live session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// DroppedSample counts a latency sample lost to a full queue.
func (m *Metrics) DroppedSample() {
	if m == nil {
		return
	}
	m.PersistDropped.Inc()
}
