package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Settlement outcomes used as label values.
const (
	OutcomeSettled             = "settled"
	OutcomeReplayed            = "replayed"
	OutcomeInsufficientCredits = "insufficient_credits"
	OutcomeNotFound            = "not_found"
	OutcomeInvalid             = "invalid"
	OutcomeFailed              = "failed"
)

// SettlementMetrics tracks purchase settlement throughput and referral conversions.
type SettlementMetrics struct {
	total       *prometheus.CounterVec
	duration    prometheus.Histogram
	conversions prometheus.Counter
}

func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_total",
		Help:      "Settlement attempts by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Wall time of a settlement unit of work.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
	conversions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "referral_conversions_total",
		Help:      "Referrals converted by a first purchase.",
	})
	reg.MustRegister(total, duration, conversions)
	return &SettlementMetrics{
		total:       total,
		duration:    duration,
		conversions: conversions,
	}
}

// Observe records one settlement attempt.
func (m *SettlementMetrics) Observe(outcome string, elapsed time.Duration) {
	if m == nil || m.total == nil {
		return
	}
	m.total.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *SettlementMetrics) IncConversion() {
	if m == nil || m.conversions == nil {
		return
	}
	m.conversions.Inc()
}
