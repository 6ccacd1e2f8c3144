package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rule outcomes recorded by Metrics.
const (
	outcomeApplied = "applied"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	rules     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	rollbacks *prometheus.CounterVec
	runs      *prometheus.CounterVec
	phases    prometheus.Histogram
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rules: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sxn",
			Subsystem: "rules",
			Name:      "total",
			Help:      "Rules processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sxn",
			Subsystem: "rules",
			Name:      "apply_duration_seconds",
			Help:      "Time spent in a rule's apply step.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"kind"}),
		rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sxn",
			Subsystem: "rules",
			Name:      "rollbacks_total",
			Help:      "Rule rollbacks attempted by the coordinator, by outcome.",
		}, []string{"outcome"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sxn",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "ApplyRules calls, by result.",
		}, []string{"result"}),
		phases: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sxn",
			Subsystem: "engine",
			Name:      "phases",
			Help:      "Number of phases per run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}
}

func (m *Metrics) ruleOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.rules.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) applyDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) rollback(outcome string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) run(success bool, phases int) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.runs.WithLabelValues(result).Inc()
	m.phases.Observe(float64(phases))
}
