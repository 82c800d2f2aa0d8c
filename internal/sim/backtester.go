package sim

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/metrics"
	"github.com/quantive/cascade/internal/perf"
	"github.com/quantive/cascade/internal/pipeline"
	"github.com/quantive/cascade/internal/portfolio"
	"github.com/quantive/cascade/internal/series"
)

// Result carries everything a finished (or aborted) run produced.
type Result struct {
	Mode   core.Mode               `json:"mode"`
	Start  time.Time               `json:"start"`
	End    time.Time               `json:"end"`
	Trades []portfolio.Trade       `json:"trades"`
	Equity []portfolio.EquityPoint `json:"equity"`
	// Summary is nil when the run was too short to analyze.
	Summary *perf.Summary `json:"summary,omitempty"`
}

// Backtester replays history step by step: for each timeline entry it builds
// look-ahead-safe data views, runs the cascade, and feeds the survivors to
// the simulator.
type Backtester struct {
	provider series.Provider
	runner   *pipeline.Runner
	cfg      Config
	mode     core.Mode
	logger   *zap.Logger
	metrics  *metrics.Registry
}

// NewBacktester wires a backtester. The mode decides both the data views
// (retrospective trims the decision bar) and the breakout comparison inside
// the cascade.
func NewBacktester(provider series.Provider, runner *pipeline.Runner, cfg Config, mode core.Mode, logger *zap.Logger, reg *metrics.Registry) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		provider: provider,
		runner:   runner,
		cfg:      cfg,
		mode:     mode,
		logger:   logger,
		metrics:  reg,
	}
}

type symbolData struct {
	symbol string
	daily  *series.Series
	weekly *series.Series
}

// load fetches daily and weekly history for every symbol. A symbol whose data
// cannot be loaded is dropped from the run with a warning, never an error.
func (b *Backtester) load(ctx context.Context, symbols []string) ([]symbolData, error) {
	out := make([]symbolData, 0, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		daily, err := b.provider.Daily(ctx, sym)
		if err != nil {
			b.logger.Warn("symbol dropped: daily load failed",
				zap.String("symbol", sym), zap.Error(err))
			b.metrics.RecordSkip()
			continue
		}
		weekly, err := b.provider.Weekly(ctx, sym)
		if err != nil {
			b.logger.Warn("symbol dropped: weekly load failed",
				zap.String("symbol", sym), zap.Error(err))
			b.metrics.RecordSkip()
			continue
		}
		out = append(out, symbolData{symbol: sym, daily: daily, weekly: weekly})
	}
	return out, nil
}

// Run replays [start, end] over the given universe. On cancellation or an
// invariant violation it returns the partial result alongside the error; the
// trade log and equity history in it end at the last committed step.
func (b *Backtester) Run(ctx context.Context, symbols []string, start, end time.Time) (*Result, error) {
	res := &Result{Mode: b.mode, Start: start, End: end}

	data, err := b.load(ctx, symbols)
	if err != nil {
		return res, err
	}

	dailies := make([]*series.Series, len(data))
	for i, d := range data {
		dailies[i] = d.daily
	}
	timeline := within(series.Timeline(dailies...), start, end)
	if len(timeline) == 0 {
		b.logger.Warn("no bars inside run window",
			zap.Time("start", start), zap.Time("end", end))
		return res, nil
	}

	sim := New(b.cfg, b.logger, b.metrics)

	for _, t := range timeline {
		if err := ctx.Err(); err != nil {
			b.collect(res, sim)
			return res, err
		}

		stepStart := time.Now()
		candidates, bars, err := b.evaluate(ctx, data, t)
		if err != nil {
			b.collect(res, sim)
			return res, err
		}

		stepErr := sim.Step(StepInput{
			Time:       t,
			Candidates: candidates,
			Exits:      b.signalExits(sim.Portfolio(), bars),
			Bars:       bars,
		})
		if stepErr != nil {
			b.logger.Error("run halted", zap.Time("step", t), zap.Error(stepErr))
			b.collect(res, sim)
			return res, stepErr
		}
		b.metrics.RecordStep(time.Since(stepStart).Seconds())
	}

	b.collect(res, sim)
	b.logger.Info("run complete",
		zap.Int("steps", len(timeline)),
		zap.Int("trades", len(res.Trades)))
	return res, nil
}

// Scan evaluates the latest available data once and returns the surviving
// candidates without simulating any fills. Pair with forward mode to surface
// pending setups.
func (b *Backtester) Scan(ctx context.Context, symbols []string) ([]pipeline.Candidate, error) {
	data, err := b.load(ctx, symbols)
	if err != nil {
		return nil, err
	}
	inputs := make([]pipeline.Input, 0, len(data))
	for _, d := range data {
		inputs = append(inputs, pipeline.Input{Symbol: d.symbol, Daily: d.daily, Weekly: d.weekly})
	}
	return b.runner.Evaluate(ctx, b.mode, inputs)
}

// evaluate builds the per-symbol views for step t and runs the cascade.
// Retrospective decisions read only bars through t-1; the step's own bar is
// used exclusively for fills.
func (b *Backtester) evaluate(ctx context.Context, data []symbolData, t time.Time) ([]pipeline.Candidate, map[string]core.SeriesBar, error) {
	inputs := make([]pipeline.Input, 0, len(data))
	bars := make(map[string]core.SeriesBar, len(data))

	for _, d := range data {
		if bar, ok := d.daily.At(t); ok {
			bars[d.symbol] = bar
		}

		daily := d.daily.Until(t)
		if b.mode == core.ModeRetrospective {
			daily = daily.DropLast()
		}
		if daily.Len() == 0 {
			continue
		}
		decision, _ := daily.Last()
		weekly := d.weekly.Until(decision.Time)

		inputs = append(inputs, pipeline.Input{Symbol: d.symbol, Daily: daily, Weekly: weekly})
	}

	candidates, err := b.runner.Evaluate(ctx, b.mode, inputs)
	if err != nil {
		return nil, nil, err
	}
	return candidates, bars, nil
}

// signalExits lists held tickers whose step bar closed under the long moving
// average, when trend-break exits are enabled.
func (b *Backtester) signalExits(pf *portfolio.Portfolio, bars map[string]core.SeriesBar) []string {
	if !b.cfg.SignalExitOnTrendBreak {
		return nil
	}
	var out []string
	for _, pos := range pf.OpenPositions() {
		bar, ok := bars[pos.Ticker]
		if !ok || !bar.HasPrices() || !core.IsFinite(bar.MALong) {
			continue
		}
		if bar.Close < bar.MALong {
			out = append(out, pos.Ticker)
		}
	}
	return out
}

// collect copies the simulator's committed state into the result and attaches
// the performance summary when enough history exists.
func (b *Backtester) collect(res *Result, sim *Simulator) {
	res.Trades = sim.TradeLog().Trades()
	res.Equity = sim.Portfolio().History()

	summary, err := perf.Analyze(res.Trades, res.Equity)
	if err != nil {
		b.logger.Warn("performance summary skipped", zap.Error(err))
		return
	}
	res.Summary = summary
}

func within(times []time.Time, start, end time.Time) []time.Time {
	out := times[:0:0]
	for _, t := range times {
		if t.Before(start) || t.After(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}
