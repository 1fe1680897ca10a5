package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Methods are safe
// to call on a nil *Metrics so tests can skip wiring them.
type Metrics struct {
	GrantsIssued     prometheus.Counter
	GrantsRejected   *prometheus.CounterVec
	GrantsExpired    prometheus.Counter
	TokensIssued     *prometheus.CounterVec
	ExchangeFailures *prometheus.CounterVec
	ReplaysDetected  prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
	RateLimited      *prometheus.CounterVec
	CircuitOpen      *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics with the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GrantsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "grantd_grants_issued_total",
			Help: "Total number of authorization codes issued",
		}),
		GrantsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grantd_grants_rejected_total",
			Help: "Total number of authorization requests rejected",
		}, []string{"reason"}),
		GrantsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "grantd_grants_expired_total",
			Help: "Total number of authorization codes swept after expiring unredeemed",
		}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grantd_tokens_issued_total",
			Help: "Total number of access tokens issued",
		}, []string{"grant_type"}),
		ExchangeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grantd_token_exchange_failures_total",
			Help: "Total number of failed token requests",
		}, []string{"grant_type", "reason"}),
		ReplaysDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "grantd_code_replays_detected_total",
			Help: "Total number of redeemed authorization codes presented again",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantd_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grantd_ratelimit_rejected_total",
			Help: "Total number of requests rejected by the rate limiter",
		}, []string{"class"}),
		CircuitOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grantd_circuit_open",
			Help: "1 while the named circuit breaker is routing to its fallback",
		}, []string{"name"}),
	}
}

func (m *Metrics) IncGrantsIssued() {
	if m != nil {
		m.GrantsIssued.Inc()
	}
}

func (m *Metrics) IncGrantsRejected(reason string) {
	if m != nil {
		m.GrantsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AddGrantsExpired(n int) {
	if m != nil && n > 0 {
		m.GrantsExpired.Add(float64(n))
	}
}

func (m *Metrics) IncTokensIssued(grantType string) {
	if m != nil {
		m.TokensIssued.WithLabelValues(grantType).Inc()
	}
}

func (m *Metrics) IncExchangeFailures(grantType, reason string) {
	if m != nil {
		m.ExchangeFailures.WithLabelValues(grantType, reason).Inc()
	}
}

func (m *Metrics) IncReplaysDetected() {
	if m != nil {
		m.ReplaysDetected.Inc()
	}
}

func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, status).Observe(d.Seconds())
	}
}

func (m *Metrics) IncRateLimited(class string) {
	if m != nil {
		m.RateLimited.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) SetCircuitOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(name).Set(v)
}
