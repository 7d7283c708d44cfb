// Package metrics holds the Prometheus instruments of the till engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "till"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	ShiftsStarted       prometheus.Counter
	ShiftsClosed        prometheus.Counter
	SessionsStarted     prometheus.Counter
	SessionsClosed      prometheus.Counter
	InterimSettlements  prometheus.Counter
	RejectedTransitions *prometheus.CounterVec
	SettlementVariance  prometheus.Histogram
	OverdueSessions     prometheus.Gauge
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ShiftsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shifts_started_total",
			Help:      "Total number of shifts started",
		}),
		ShiftsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shifts_closed_total",
			Help:      "Total number of shifts closed",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of billing sessions started",
		}),
		SessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of billing sessions closed with a completed settlement",
		}),
		InterimSettlements: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interim_settlements_total",
			Help:      "Total number of mid-session cash drops recorded",
		}),
		RejectedTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_transitions_total",
			Help:      "Lifecycle transitions blocked by a business rule, by reason",
		}, []string{"reason"}),
		SettlementVariance: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_variance_abs",
			Help:      "Absolute cash variance of completed settlements",
			Buckets:   []float64{0, 0.5, 1, 5, 10, 50, 100, 500},
		}),
		OverdueSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overdue_sessions",
			Help:      "Active sessions open longer than the configured maximum age",
		}),
	}
}

func (m *Metrics) IncShiftsStarted() {
	if m != nil {
		m.ShiftsStarted.Inc()
	}
}

func (m *Metrics) IncShiftsClosed() {
	if m != nil {
		m.ShiftsClosed.Inc()
	}
}

func (m *Metrics) IncSessionsStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

func (m *Metrics) IncSessionsClosed() {
	if m != nil {
		m.SessionsClosed.Inc()
	}
}

func (m *Metrics) IncInterimSettlements() {
	if m != nil {
		m.InterimSettlements.Inc()
	}
}

func (m *Metrics) IncRejected(reason string) {
	if m != nil {
		m.RejectedTransitions.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveVariance(abs float64) {
	if m != nil {
		m.SettlementVariance.Observe(abs)
	}
}

func (m *Metrics) SetOverdueSessions(n int) {
	if m != nil {
		m.OverdueSessions.Set(float64(n))
	}
}
