// Package stage implements the five-stage filtering cascade. Each filter is a
// pure predicate over a symbol's bar history view: it never mutates shared
// state and fails closed when required fields are missing or non-finite.
package stage

import (
	"math"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/series"
)

// Context carries the per-symbol data a filter may read. The views end at the
// decision time for the step; the pipeline applies the retrospective offset
// before building the context, so filters other than the daily breakout stay
// mode-free.
type Context struct {
	Symbol string
	Daily  *series.Series
	Weekly *series.Series
	Mode   core.Mode
}

// Result is the outcome of one filter for one symbol.
type Result struct {
	Symbol string
	Stage  core.StageID
	Pass   bool
	// TargetPrice and StopPrice are NaN unless the filter emits prices
	// (only the daily breakout does).
	TargetPrice float64
	StopPrice   float64
	// Label names what triggered the pass, e.g. the breakout lookback window.
	Label string
}

// Filter is one gate in the cascade.
type Filter interface {
	ID() core.StageID
	Evaluate(ctx Context) Result
}

func fail(symbol string, id core.StageID) Result {
	return Result{Symbol: symbol, Stage: id, Pass: false, TargetPrice: math.NaN(), StopPrice: math.NaN()}
}

func pass(symbol string, id core.StageID) Result {
	return Result{Symbol: symbol, Stage: id, Pass: true, TargetPrice: math.NaN(), StopPrice: math.NaN()}
}
