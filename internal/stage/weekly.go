package stage

import (
	"math"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/indicator"
)

// WeeklyConfig holds the W-stage price-structure thresholds.
type WeeklyConfig struct {
	// ShortWindow and LongWindow are the rolling-high/low lookbacks in weeks.
	ShortWindow int
	LongWindow  int
	// HighTolerance bounds how far the short-window high may drift from its
	// reading two periods earlier (fractional, e.g. 0.05 = 5%).
	HighTolerance float64
	// MinAboveLow is the minimum ratio of close to the long-window low.
	MinAboveLow float64
	// NearHighRatio is the minimum ratio of close to the long-window high.
	NearHighRatio float64
}

// Weekly passes symbols whose weekly price structure satisfies all five
// base-building conditions simultaneously.
type Weekly struct {
	cfg WeeklyConfig
}

// NewWeekly creates the W-stage filter.
func NewWeekly(cfg WeeklyConfig) *Weekly {
	return &Weekly{cfg: cfg}
}

func (w *Weekly) ID() core.StageID { return core.StageWeekly }

func (w *Weekly) Evaluate(ctx Context) Result {
	view := ctx.Weekly
	// Condition 3 reaches two periods behind the short window.
	if view.Len() < w.cfg.LongWindow+2 {
		return fail(ctx.Symbol, w.ID())
	}

	highs := view.Highs()
	lows := view.Lows()
	last, _ := view.Last()
	close := last.Close

	hhShort := indicator.HighestHigh(highs, w.cfg.ShortWindow)
	hhLong := indicator.HighestHigh(highs, w.cfg.LongWindow)
	llShort := indicator.LowestLow(lows, w.cfg.ShortWindow)
	llLong := indicator.LowestLow(lows, w.cfg.LongWindow)
	prevShortHigh := indicator.HighestHigh(highs[:len(highs)-2], w.cfg.ShortWindow)

	if !core.AllFinite(hhShort, hhLong, llShort, llLong, prevShortHigh, close) {
		return fail(ctx.Symbol, w.ID())
	}
	if prevShortHigh <= 0 || llLong <= 0 || hhLong <= 0 {
		return fail(ctx.Symbol, w.ID())
	}

	// 1. The short-window high is the long-window high (recent strength).
	if hhShort != hhLong {
		return fail(ctx.Symbol, w.ID())
	}
	// 2. The longer low sits below the shorter low (rising base).
	if llLong >= llShort {
		return fail(ctx.Symbol, w.ID())
	}
	// 3. The recent high is stable versus two periods prior.
	if math.Abs(hhShort-prevShortHigh) > prevShortHigh*w.cfg.HighTolerance {
		return fail(ctx.Symbol, w.ID())
	}
	// 4. Close is sufficiently extended above the long-window low.
	if close < llLong*w.cfg.MinAboveLow {
		return fail(ctx.Symbol, w.ID())
	}
	// 5. Close sits near the long-window high.
	if close < hhLong*w.cfg.NearHighRatio {
		return fail(ctx.Symbol, w.ID())
	}

	return pass(ctx.Symbol, w.ID())
}
