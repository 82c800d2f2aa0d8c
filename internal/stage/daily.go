package stage

import (
	"fmt"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/indicator"
)

// DailyConfig holds the D-stage thresholds.
type DailyConfig struct {
	// MomentumLookback is how many bars back the long MA is compared against.
	MomentumLookback int
	// StopFraction places the stop this fraction below the breakout level.
	StopFraction float64
	// BreakoutWindows are the rolling-high lookbacks in bars, longest first.
	// The scan stops at the first window that matches.
	BreakoutWindows []int
	// RS is the relative-strength condition re-checked by this stage.
	RS RSConfig
}

// DefaultBreakoutWindows spans roughly six months down to one month of
// trading days.
var DefaultBreakoutWindows = []int{120, 60, 20}

// Daily is the breakout stage. It requires positive-or-flat long-MA momentum,
// the short MA sitting over the long MA, and the RS condition, then scans the
// configured lookback windows for a breakout above the rolling high. The
// comparison direction depends on the mode: retrospective asks whether the
// close already exceeded the level, forward asks whether the level is still
// ahead of the close and therefore an actionable target. Both directions are
// intentional; do not unify them.
type Daily struct {
	cfg DailyConfig
}

// NewDaily creates the D-stage filter.
func NewDaily(cfg DailyConfig) *Daily {
	return &Daily{cfg: cfg}
}

func (d *Daily) ID() core.StageID { return core.StageDaily }

func (d *Daily) Evaluate(ctx Context) Result {
	view := ctx.Daily
	if view.Len() < d.cfg.MomentumLookback+1 {
		return fail(ctx.Symbol, d.ID())
	}

	bar, _ := view.Last()
	past := view.Bars[view.Len()-1-d.cfg.MomentumLookback]

	if !core.AllFinite(bar.MAShort, bar.MALong, past.MALong, bar.Close) {
		return fail(ctx.Symbol, d.ID())
	}

	// Long-MA momentum must be positive or flat.
	if bar.MALong < past.MALong {
		return fail(ctx.Symbol, d.ID())
	}
	// Short MA over long MA.
	if bar.MAShort < bar.MALong {
		return fail(ctx.Symbol, d.ID())
	}
	if !rsCondition(view, d.cfg.RS) {
		return fail(ctx.Symbol, d.ID())
	}

	// Rolling highs exclude the decision bar so a close cannot break out
	// over a level it set itself.
	highs := view.Highs()
	priorHighs := highs[:len(highs)-1]

	for _, window := range d.cfg.BreakoutWindows {
		level := indicator.HighestHigh(priorHighs, window)
		if !core.IsFinite(level) || level <= 0 {
			continue
		}

		var triggered bool
		switch ctx.Mode {
		case core.ModeForward:
			// The level is a pending target the price has not reached yet.
			triggered = bar.Close < level
		default:
			// Retrospective: the close already cleared the level.
			triggered = bar.Close >= level
		}
		if !triggered {
			continue
		}

		res := pass(ctx.Symbol, d.ID())
		res.TargetPrice = level
		res.StopPrice = level * (1 - d.cfg.StopFraction)
		res.Label = fmt.Sprintf("high_%dd", window)
		return res
	}

	return fail(ctx.Symbol, d.ID())
}
