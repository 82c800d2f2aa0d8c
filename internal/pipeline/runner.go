// Package pipeline sequences the stage filters into a cascade and evaluates a
// universe of symbols against it, one simulated step at a time.
package pipeline

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/metrics"
	"github.com/quantive/cascade/internal/series"
	"github.com/quantive/cascade/internal/stage"
)

// fallbackStopFraction places the stop for candidates without breakout prices
// (daily stage skipped) a fixed distance under the reference close.
const fallbackStopFraction = 0.05

// Candidate is a symbol that survived every enabled stage in a step, with the
// prices the daily breakout stage produced. Candidates live for one step only.
type Candidate struct {
	Symbol      string
	Score       float64
	TargetPrice float64
	StopPrice   float64
	Label       string
	// RefPrice and AvgDailyRange are sizing inputs for the simulator.
	RefPrice      float64
	AvgDailyRange float64
}

// Input is one symbol's data views for a step. Views must already end at the
// step's decision time.
type Input struct {
	Symbol string
	Daily  *series.Series
	Weekly *series.Series
}

// Config controls cascade composition and evaluation.
type Config struct {
	// Skip disables individual stages; a skipped stage passes all symbols
	// unconditionally. Used for tuning experiments.
	Skip map[core.StageID]bool
	// Workers bounds the per-symbol evaluation pool. Zero means one worker.
	Workers int
}

// Runner evaluates the cascade over a symbol universe.
type Runner struct {
	filters []stage.Filter
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewRunner creates a Runner over the given ordered filters.
func NewRunner(filters []stage.Filter, cfg Config, logger *zap.Logger, reg *metrics.Registry) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{filters: filters, cfg: cfg, logger: logger, metrics: reg}
}

type evaluation struct {
	symbol    string
	candidate *Candidate
	results   []stage.Result
}

// Evaluate runs every symbol through the cascade and returns the surviving
// candidates sorted by score descending (symbol ascending on ties). Per-symbol
// work is scattered across a worker pool and gathered in symbol order, so the
// output is deterministic regardless of scheduling.
func (r *Runner) Evaluate(ctx context.Context, mode core.Mode, inputs []Input) ([]Candidate, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	jobs := make(chan Input)
	out := make(chan evaluation, len(inputs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range jobs {
				out <- r.evaluateSymbol(mode, in)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, in := range inputs {
			select {
			case <-ctx.Done():
				return
			case jobs <- in:
			}
		}
	}()

	wg.Wait()
	close(out)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	evals := make([]evaluation, 0, len(inputs))
	for ev := range out {
		evals = append(evals, ev)
	}
	// Deterministic merge order before anything downstream observes results.
	sort.Slice(evals, func(i, j int) bool { return evals[i].symbol < evals[j].symbol })

	var candidates []Candidate
	for _, ev := range evals {
		for _, res := range ev.results {
			r.metrics.RecordStage(string(res.Stage), res.Pass)
		}
		if ev.candidate != nil {
			candidates = append(candidates, *ev.candidate)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	r.metrics.RecordCandidates(len(candidates))
	return candidates, nil
}

// evaluateSymbol walks one symbol through the gates, short-circuiting on the
// first failure. A symbol with no usable latest bar is skipped for the step.
func (r *Runner) evaluateSymbol(mode core.Mode, in Input) evaluation {
	ev := evaluation{symbol: in.Symbol}

	last, ok := in.Daily.Last()
	if !ok || !last.HasPrices() {
		r.metrics.RecordSkip()
		r.logger.Debug("symbol skipped: no usable bar", zap.String("symbol", in.Symbol))
		return ev
	}

	sctx := stage.Context{Symbol: in.Symbol, Daily: in.Daily, Weekly: in.Weekly, Mode: mode}

	// NaN prices until the daily stage emits real ones, so a skipped daily
	// stage routes through the fallback below.
	breakout := stage.Result{TargetPrice: math.NaN(), StopPrice: math.NaN()}
	for _, f := range r.filters {
		if r.cfg.Skip[f.ID()] {
			continue
		}
		res := f.Evaluate(sctx)
		ev.results = append(ev.results, res)
		if !res.Pass {
			return ev
		}
		if f.ID() == core.StageDaily {
			breakout = res
		}
	}

	// The daily stage is the only price source; without it (skipped), fall
	// back to the latest close with the stop a fixed fraction below it. A
	// stop at the close itself would trigger on the first down tick.
	target, stop := breakout.TargetPrice, breakout.StopPrice
	if !core.AllFinite(target, stop) {
		target = last.Close
		stop = last.Close * (1 - fallbackStopFraction)
	}

	ev.candidate = &Candidate{
		Symbol:        in.Symbol,
		Score:         score(last, breakout),
		TargetPrice:   target,
		StopPrice:     stop,
		Label:         breakout.Label,
		RefPrice:      last.Close,
		AvgDailyRange: last.AvgDailyRange,
	}
	return ev
}

// score ranks candidates for capacity decisions: relative strength dominates,
// with a small bonus for breakouts over longer lookbacks.
func score(bar core.SeriesBar, breakout stage.Result) float64 {
	s := 0.0
	if core.IsFinite(bar.RSPercentile) {
		s = bar.RSPercentile
	}
	if breakout.Pass && core.IsFinite(breakout.TargetPrice) && breakout.TargetPrice > 0 {
		// Deeper breakout levels relative to price score slightly higher.
		s += breakout.TargetPrice / bar.Close
	}
	return s
}
