package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics for the pipeline and simulator.
// A nil *Registry is safe to call; every recorder no-ops.
type Registry struct {
	*prometheus.Registry

	stageEvaluations *prometheus.CounterVec
	symbolsSkipped   prometheus.Counter
	candidates       prometheus.Histogram

	stepsTotal   prometheus.Counter
	stepDuration prometheus.Histogram
	tradesTotal  *prometheus.CounterVec
	equity       prometheus.Gauge
	openCount    prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		stageEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_stage_evaluations_total",
				Help: "Total number of stage evaluations",
			},
			[]string{"stage", "result"},
		),
		symbolsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cascade_symbols_skipped_total",
				Help: "Symbols excluded from a step due to data errors",
			},
		),
		candidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cascade_candidates_per_step",
				Help:    "Number of buy candidates produced per step",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
		stepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cascade_steps_total",
				Help: "Total number of committed simulation steps",
			},
		),
		stepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cascade_step_duration_seconds",
				Help:    "Simulation step duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		tradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_trades_total",
				Help: "Total number of recorded trades",
			},
			[]string{"type"},
		),
		equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cascade_portfolio_equity",
				Help: "Portfolio equity after the latest committed step",
			},
		),
		openCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cascade_open_positions",
				Help: "Open positions after the latest committed step",
			},
		),
	}

	reg.MustRegister(r.stageEvaluations)
	reg.MustRegister(r.symbolsSkipped)
	reg.MustRegister(r.candidates)
	reg.MustRegister(r.stepsTotal)
	reg.MustRegister(r.stepDuration)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.equity)
	reg.MustRegister(r.openCount)

	return r
}

// RecordStage records one stage evaluation outcome.
func (r *Registry) RecordStage(stage string, pass bool) {
	if r == nil {
		return
	}
	result := "fail"
	if pass {
		result = "pass"
	}
	r.stageEvaluations.WithLabelValues(stage, result).Inc()
}

// RecordSkip records a symbol excluded from a step.
func (r *Registry) RecordSkip() {
	if r == nil {
		return
	}
	r.symbolsSkipped.Inc()
}

// RecordCandidates records the candidate count for a step.
func (r *Registry) RecordCandidates(n int) {
	if r == nil {
		return
	}
	r.candidates.Observe(float64(n))
}

// RecordStep records a committed step and its duration.
func (r *Registry) RecordStep(seconds float64) {
	if r == nil {
		return
	}
	r.stepsTotal.Inc()
	r.stepDuration.Observe(seconds)
}

// RecordTrade records a trade by type.
func (r *Registry) RecordTrade(tradeType string) {
	if r == nil {
		return
	}
	r.tradesTotal.WithLabelValues(tradeType).Inc()
}

// SetPortfolio updates the equity and open-position gauges.
func (r *Registry) SetPortfolio(equity float64, openPositions int) {
	if r == nil {
		return
	}
	r.equity.Set(equity)
	r.openCount.Set(float64(openPositions))
}
