package stage

import (
	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/series"
)

// RSConfig holds the relative-strength cutoff.
type RSConfig struct {
	// Cutoff is the minimum percentile rank (0-100). Default is the top decile.
	Cutoff float64
}

// DefaultRSConfig returns the top-decile cutoff.
func DefaultRSConfig() RSConfig {
	return RSConfig{Cutoff: 90}
}

// RelStrength passes symbols whose relative-strength percentile clears the
// cutoff. The percentile is read from the last bar of the view; the pipeline
// applies the retrospective offset, so the reading is always a completed
// period's rank.
type RelStrength struct {
	cfg RSConfig
}

// NewRelStrength creates the RS-stage filter.
func NewRelStrength(cfg RSConfig) *RelStrength {
	return &RelStrength{cfg: cfg}
}

func (r *RelStrength) ID() core.StageID { return core.StageRS }

func (r *RelStrength) Evaluate(ctx Context) Result {
	if !rsCondition(ctx.Daily, r.cfg) {
		return fail(ctx.Symbol, r.ID())
	}
	return pass(ctx.Symbol, r.ID())
}

// rsCondition is shared with the daily breakout stage, which re-checks
// relative strength as part of its own predicate.
func rsCondition(daily *series.Series, cfg RSConfig) bool {
	bar, ok := daily.Last()
	if !ok || !core.IsFinite(bar.RSPercentile) {
		return false
	}
	return bar.RSPercentile >= cfg.Cutoff
}
