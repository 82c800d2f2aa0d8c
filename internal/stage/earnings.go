package stage

import "github.com/quantive/cascade/internal/core"

// EarningsConfig holds the E-stage thresholds.
type EarningsConfig struct {
	// RevenueGrowthFloor is the minimum trailing YoY revenue growth ratio.
	RevenueGrowthFloor float64
	// EPSGrowthFloor is the minimum trailing YoY EPS growth ratio.
	EPSGrowthFloor float64
}

// Earnings passes symbols whose trailing revenue and EPS growth both clear
// their floors and improve on the prior comparable period.
type Earnings struct {
	cfg EarningsConfig
}

// NewEarnings creates the E-stage filter.
func NewEarnings(cfg EarningsConfig) *Earnings {
	return &Earnings{cfg: cfg}
}

func (e *Earnings) ID() core.StageID { return core.StageEarnings }

func (e *Earnings) Evaluate(ctx Context) Result {
	bar, ok := ctx.Daily.Last()
	if !ok {
		return fail(ctx.Symbol, e.ID())
	}
	if !core.AllFinite(bar.RevenueGrowth, bar.EPSGrowth, bar.PrevRevenueGrowth, bar.PrevEPSGrowth) {
		return fail(ctx.Symbol, e.ID())
	}

	if bar.RevenueGrowth <= e.cfg.RevenueGrowthFloor || bar.EPSGrowth <= e.cfg.EPSGrowthFloor {
		return fail(ctx.Symbol, e.ID())
	}
	if bar.RevenueGrowth <= bar.PrevRevenueGrowth || bar.EPSGrowth <= bar.PrevEPSGrowth {
		return fail(ctx.Symbol, e.ID())
	}

	return pass(ctx.Symbol, e.ID())
}
