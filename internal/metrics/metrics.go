package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the credit engine.
type Metrics struct {
	consumeAttempts *prometheus.CounterVec
	creditsConsumed *prometheus.CounterVec
	adjustments     *prometheus.CounterVec
	alertsSent      *prometheus.CounterVec
	rollovers       prometheus.Counter
}

// New registers and returns the engine's collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		consumeAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_consume_attempts_total",
				Help: "Consumption attempts by outcome (consumed, already_consumed, insufficient, ineligible, invalid, conflict, error)",
			},
			[]string{"result"},
		),
		creditsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_consumed_total",
				Help: "Credits debited, by primary source pool",
			},
			[]string{"source"},
		),
		adjustments: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_adjustments_total",
				Help: "Addon balance adjustments by reason",
			},
			[]string{"reason"},
		),
		alertsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_threshold_alerts_total",
				Help: "Low-balance alerts inserted, by threshold key",
			},
			[]string{"threshold"},
		),
		rollovers: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_period_rollovers_total",
				Help: "Billing periods reset by the rollover sweep",
			},
		),
	}
}

func (m *Metrics) ConsumeAttempt(result string) {
	if m == nil {
		return
	}
	m.consumeAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) CreditsConsumed(source string, amount int) {
	if m == nil {
		return
	}
	m.creditsConsumed.WithLabelValues(source).Add(float64(amount))
}

func (m *Metrics) Adjustment(reason string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(reason).Inc()
}

func (m *Metrics) AlertSent(threshold string) {
	if m == nil {
		return
	}
	m.alertsSent.WithLabelValues(threshold).Inc()
}

func (m *Metrics) Rollover() {
	if m == nil {
		return
	}
	m.rollovers.Inc()
}
