package stage

import "github.com/quantive/cascade/internal/core"

// FundamentalConfig holds the F-stage thresholds.
type FundamentalConfig struct {
	// MinMarketCap and MaxMarketCap bound the acceptable capitalization band.
	MinMarketCap float64
	MaxMarketCap float64
	// GrowthThreshold is the ratio either revenue or EPS growth must clear.
	GrowthThreshold float64
}

// Fundamental passes symbols inside the market-cap band with positive revenue
// and at least one growth ratio above the threshold.
type Fundamental struct {
	cfg FundamentalConfig
}

// NewFundamental creates the F-stage filter.
func NewFundamental(cfg FundamentalConfig) *Fundamental {
	return &Fundamental{cfg: cfg}
}

func (f *Fundamental) ID() core.StageID { return core.StageFundamental }

func (f *Fundamental) Evaluate(ctx Context) Result {
	bar, ok := ctx.Daily.Last()
	if !ok {
		return fail(ctx.Symbol, f.ID())
	}
	if !core.AllFinite(bar.MarketCap, bar.Revenue) {
		return fail(ctx.Symbol, f.ID())
	}

	if bar.MarketCap < f.cfg.MinMarketCap || bar.MarketCap > f.cfg.MaxMarketCap {
		return fail(ctx.Symbol, f.ID())
	}
	if bar.Revenue <= 0 {
		return fail(ctx.Symbol, f.ID())
	}

	revOK := core.IsFinite(bar.RevenueGrowth) && bar.RevenueGrowth >= f.cfg.GrowthThreshold
	epsOK := core.IsFinite(bar.EPSGrowth) && bar.EPSGrowth >= f.cfg.GrowthThreshold
	if !revOK && !epsOK {
		return fail(ctx.Symbol, f.ID())
	}

	return pass(ctx.Symbol, f.ID())
}
