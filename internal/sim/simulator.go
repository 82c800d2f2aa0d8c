// Package sim converts pipeline candidates and portfolio state into simulated
// fills, one time step at a time, and drives whole backtest runs.
package sim

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/metrics"
	"github.com/quantive/cascade/internal/pipeline"
	"github.com/quantive/cascade/internal/portfolio"
)

// Config holds the execution parameters of a run.
type Config struct {
	InitialCash      float64
	RiskFraction     float64 // fraction of equity risked per new entry
	SlippageFraction float64 // adverse price adjustment on every fill
	Commission       float64 // flat commission per fill

	PartialExitEnabled  bool
	PartialExitFraction float64 // fraction of quantity closed at target
	StopWidenFraction   float64 // stop moves down by this fraction after a partial exit

	PyramidingEnabled   bool
	MaxPyramids         int
	PyramidSizeFraction float64 // pyramid adds scale the base risk size by this

	MaxPositions        int
	MaxPositionFraction float64 // concentration cap as a fraction of equity
	ADRMultiple         float64 // floor on risk-per-share in average daily ranges

	// SignalExitOnTrendBreak closes a held position when its close falls
	// below the long moving average. Consumed by the backtester, which owns
	// the data needed to detect the break.
	SignalExitOnTrendBreak bool
}

// DefaultConfig returns the baseline execution parameters.
func DefaultConfig() Config {
	return Config{
		InitialCash:         100_000,
		RiskFraction:        0.01,
		SlippageFraction:    0.001,
		Commission:          0,
		PartialExitEnabled:  true,
		PartialExitFraction: 0.5,
		StopWidenFraction:   0.05,
		PyramidingEnabled:   false,
		MaxPyramids:         2,
		PyramidSizeFraction: 0.5,
		MaxPositions:        10,
		MaxPositionFraction: 0.25,
		ADRMultiple:         0.5,

		SignalExitOnTrendBreak: true,
	}
}

// Validate rejects unusable execution parameters before any simulation begins.
func (c Config) Validate() error {
	switch {
	case c.InitialCash <= 0:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("initial_cash must be positive, got %v", c.InitialCash))
	case c.RiskFraction <= 0 || c.RiskFraction > 1:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("risk_fraction must be in (0,1], got %v", c.RiskFraction))
	case c.SlippageFraction < 0 || c.SlippageFraction >= 1:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("slippage_fraction must be in [0,1), got %v", c.SlippageFraction))
	case c.Commission < 0:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("commission cannot be negative, got %v", c.Commission))
	case c.PartialExitEnabled && (c.PartialExitFraction <= 0 || c.PartialExitFraction >= 1):
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("partial_exit_fraction must be in (0,1), got %v", c.PartialExitFraction))
	case c.StopWidenFraction < 0 || c.StopWidenFraction >= 1:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("stop_widen_fraction must be in [0,1), got %v", c.StopWidenFraction))
	case c.MaxPositions <= 0:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("max_positions must be positive, got %d", c.MaxPositions))
	case c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("max_position_fraction must be in (0,1], got %v", c.MaxPositionFraction))
	case c.PyramidingEnabled && (c.PyramidSizeFraction <= 0 || c.PyramidSizeFraction > 1):
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("pyramid_size_fraction must be in (0,1], got %v", c.PyramidSizeFraction))
	case c.ADRMultiple < 0:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("adr_multiple cannot be negative, got %v", c.ADRMultiple))
	}
	return nil
}

// StepInput is everything the simulator needs for one time step.
type StepInput struct {
	Time time.Time
	// Candidates are the pipeline survivors, already ordered by score.
	Candidates []pipeline.Candidate
	// Exits lists held tickers with a signal-driven exit this step.
	Exits []string
	// Bars carries the step's bar per symbol; fills price against these.
	Bars map[string]core.SeriesBar
}

// Simulator applies steps to the portfolio it owns. It is the only writer of
// portfolio state and runs on the main simulation goroutine.
type Simulator struct {
	cfg     Config
	pf      *portfolio.Portfolio
	log     *portfolio.TradeLog
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New creates a simulator with a fresh portfolio.
func New(cfg Config, logger *zap.Logger, reg *metrics.Registry) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		cfg:     cfg,
		pf:      portfolio.New(cfg.InitialCash),
		log:     portfolio.NewTradeLog(),
		logger:  logger,
		metrics: reg,
	}
}

// Portfolio exposes the owned portfolio for inspection.
func (s *Simulator) Portfolio() *portfolio.Portfolio { return s.pf }

// TradeLog exposes the owned trade log for inspection.
func (s *Simulator) TradeLog() *portfolio.TradeLog { return s.log }

// Step advances the simulation by one time step in fixed order: exit
// evaluation, whipsaw guard, entry evaluation, then recording. A returned
// error is an invariant violation; the committed state up to the previous
// step remains valid for inspection.
func (s *Simulator) Step(in StepInput) error {
	tradeMark := s.log.Len()
	histMark := len(s.pf.History())

	prices := closePrices(in.Bars)
	exited := make(map[string]bool)
	exitSet := make(map[string]bool, len(in.Exits))
	for _, t := range in.Exits {
		exitSet[t] = true
	}

	// Phase 1: exits, in deterministic ticker order.
	for _, pos := range s.pf.OpenPositions() {
		pos.DaysHeld++

		bar, ok := in.Bars[pos.Ticker]
		if !ok || !bar.HasPrices() {
			// Data error degrades to skip-this-step for the symbol.
			s.metrics.RecordSkip()
			s.logger.Warn("no usable bar for held position",
				zap.String("ticker", pos.Ticker), zap.Time("step", in.Time))
			continue
		}

		switch {
		case bar.Low <= pos.StopPrice:
			if err := s.stopOut(pos, in.Time); err != nil {
				return err
			}
			exited[pos.Ticker] = true
		case exitSet[pos.Ticker]:
			if err := s.signalExit(pos, bar, in.Time); err != nil {
				return err
			}
			exited[pos.Ticker] = true
		case s.cfg.PartialExitEnabled && pos.State == portfolio.StateOpen && bar.High >= pos.TargetPrice:
			if err := s.partialExit(pos, in.Time); err != nil {
				return err
			}
		}
	}

	// Phases 2+3: entries, with the same-step re-entry guard.
	for _, c := range in.Candidates {
		if exited[c.Symbol] {
			// Whipsaw: fully exited this step, re-entry suppressed until the
			// next step. Intentionally not recorded as a trade.
			s.logger.Debug("whipsaw re-entry suppressed",
				zap.String("ticker", c.Symbol), zap.Time("step", in.Time))
			continue
		}
		bar, ok := in.Bars[c.Symbol]
		if !ok || !bar.HasPrices() {
			s.metrics.RecordSkip()
			continue
		}
		if err := s.tryEnter(c, bar, prices, in.Time); err != nil {
			return err
		}
	}

	// Phase 4: record the equity snapshot and verify invariants. On
	// violation, roll the partially applied step back so persisted state
	// ends at the last fully committed step.
	point := s.pf.Snapshot(in.Time, prices)
	if err := s.pf.CheckInvariants(prices); err != nil {
		s.log.Truncate(tradeMark)
		s.pf.TruncateHistory(histMark)
		return err
	}

	s.metrics.SetPortfolio(point.Equity, point.OpenPositions)
	return nil
}

func closePrices(bars map[string]core.SeriesBar) map[string]float64 {
	prices := make(map[string]float64, len(bars))
	for sym, b := range bars {
		if b.HasPrices() {
			prices[sym] = b.Close
		}
	}
	return prices
}

// fillPrice applies adverse slippage: buys fill above, sells below.
func (s *Simulator) fillPrice(price float64, buy bool) float64 {
	if buy {
		return price * (1 + s.cfg.SlippageFraction)
	}
	return price * (1 - s.cfg.SlippageFraction)
}

func (s *Simulator) stopOut(pos *portfolio.Position, at time.Time) error {
	fill := s.fillPrice(pos.StopPrice, false)
	qty := pos.Quantity

	realized, err := pos.Close(fill)
	if err != nil {
		return err
	}
	s.pf.Credit(float64(qty)*fill - s.cfg.Commission)
	s.pf.AddRealized(realized - s.cfg.Commission)
	s.pf.Remove(pos.Ticker)

	return s.record(portfolio.Trade{
		Ticker:     pos.Ticker,
		Type:       portfolio.TradeStopOut,
		Quantity:   qty,
		Price:      fill,
		Time:       at,
		Reason:     portfolio.ReasonStopBreach,
		RealizedPL: realized - s.cfg.Commission,
		Commission: s.cfg.Commission,
	})
}

func (s *Simulator) signalExit(pos *portfolio.Position, bar core.SeriesBar, at time.Time) error {
	fill := s.fillPrice(bar.Close, false)
	qty := pos.Quantity

	realized, err := pos.Close(fill)
	if err != nil {
		return err
	}
	s.pf.Credit(float64(qty)*fill - s.cfg.Commission)
	s.pf.AddRealized(realized - s.cfg.Commission)
	s.pf.Remove(pos.Ticker)

	return s.record(portfolio.Trade{
		Ticker:     pos.Ticker,
		Type:       portfolio.TradeExit,
		Quantity:   qty,
		Price:      fill,
		Time:       at,
		Reason:     portfolio.ReasonSignalExit,
		RealizedPL: realized - s.cfg.Commission,
		Commission: s.cfg.Commission,
	})
}

// partialExit closes the configured fraction at the target and widens the
// remaining stop so the runner is given room.
func (s *Simulator) partialExit(pos *portfolio.Position, at time.Time) error {
	qty := int64(math.Floor(float64(pos.Quantity) * s.cfg.PartialExitFraction))
	if qty <= 0 || qty >= pos.Quantity {
		return nil
	}

	fill := s.fillPrice(pos.TargetPrice, false)
	realized, err := pos.Reduce(qty, fill)
	if err != nil {
		return err
	}
	s.pf.Credit(float64(qty)*fill - s.cfg.Commission)
	s.pf.AddRealized(realized - s.cfg.Commission)
	pos.StopPrice *= 1 - s.cfg.StopWidenFraction

	return s.record(portfolio.Trade{
		Ticker:     pos.Ticker,
		Type:       portfolio.TradePartialExit,
		Quantity:   qty,
		Price:      fill,
		Time:       at,
		Reason:     portfolio.ReasonTargetReached,
		RealizedPL: realized - s.cfg.Commission,
		Commission: s.cfg.Commission,
	})
}

// tryEnter opens, pyramids or rejects a candidate. Resource-limit rejections
// are recorded as zero-quantity no-op trades, never surfaced as errors.
func (s *Simulator) tryEnter(c pipeline.Candidate, bar core.SeriesBar, prices map[string]float64, at time.Time) error {
	fill := s.fillPrice(bar.Close, true)
	if fill <= 0 {
		return nil
	}
	equity := s.pf.Equity(prices)

	if pos, held := s.pf.Position(c.Symbol); held {
		return s.tryPyramid(pos, c, bar, equity, fill, at)
	}

	if s.pf.OpenCount() >= s.cfg.MaxPositions {
		return s.record(portfolio.Trade{
			Ticker: c.Symbol,
			Type:   portfolio.TradeReject,
			Price:  fill,
			Time:   at,
			Reason: portfolio.ReasonMaxPositions,
		})
	}

	qty := s.positionSize(equity, fill, c.StopPrice, bar.AvgDailyRange, 1.0)
	qty = s.clampQuantity(qty, equity, fill, 0)
	if qty <= 0 {
		return s.record(portfolio.Trade{
			Ticker: c.Symbol,
			Type:   portfolio.TradeReject,
			Price:  fill,
			Time:   at,
			Reason: portfolio.ReasonZeroSize,
		})
	}

	pos, err := portfolio.NewPosition(c.Symbol, qty, fill, c.StopPrice, c.TargetPrice, s.cfg.RiskFraction, at)
	if err != nil {
		return err
	}
	if err := s.pf.Track(pos); err != nil {
		return err
	}
	s.pf.Debit(float64(qty)*fill + s.cfg.Commission)

	reason := portfolio.ReasonBreakout
	if c.Label != "" {
		reason = c.Label
	}
	return s.record(portfolio.Trade{
		Ticker:     c.Symbol,
		Type:       portfolio.TradeEntry,
		Quantity:   qty,
		Price:      fill,
		Time:       at,
		Reason:     reason,
		Commission: s.cfg.Commission,
	})
}

func (s *Simulator) tryPyramid(pos *portfolio.Position, c pipeline.Candidate, bar core.SeriesBar, equity, fill float64, at time.Time) error {
	if !s.cfg.PyramidingEnabled || pos.State != portfolio.StateOpen || pos.PyramidLevel >= s.cfg.MaxPyramids {
		return nil
	}

	qty := s.positionSize(equity, fill, c.StopPrice, bar.AvgDailyRange, s.cfg.PyramidSizeFraction)
	qty = s.clampQuantity(qty, equity, fill, pos.MarketValue(fill))
	if qty <= 0 {
		return nil
	}

	if err := pos.Add(qty, fill); err != nil {
		return err
	}
	s.pf.Debit(float64(qty)*fill + s.cfg.Commission)

	return s.record(portfolio.Trade{
		Ticker:     c.Symbol,
		Type:       portfolio.TradePyramid,
		Quantity:   qty,
		Price:      fill,
		Time:       at,
		Reason:     portfolio.ReasonPyramid,
		Commission: s.cfg.Commission,
	})
}

// positionSize converts the configured risk fraction into shares: risk budget
// over risk-per-share, where risk-per-share is the stop distance floored by a
// multiple of the average daily range.
func (s *Simulator) positionSize(equity, fill, stop, adr, scale float64) int64 {
	riskBudget := equity * s.cfg.RiskFraction * scale
	if riskBudget <= 0 {
		return 0
	}

	riskPerShare := fill - stop
	if !core.IsFinite(riskPerShare) || riskPerShare <= 0 {
		riskPerShare = 0
	}
	if core.IsFinite(adr) && adr > 0 {
		if floor := adr * s.cfg.ADRMultiple; floor > riskPerShare {
			riskPerShare = floor
		}
	}
	if riskPerShare <= 0 {
		return 0
	}
	return int64(math.Floor(riskBudget / riskPerShare))
}

// clampQuantity enforces the concentration cap and available cash. Requests
// beyond the cap are clamped, not rejected.
func (s *Simulator) clampQuantity(qty int64, equity, fill, existingValue float64) int64 {
	if qty <= 0 {
		return 0
	}

	room := equity*s.cfg.MaxPositionFraction - existingValue
	if room <= 0 {
		return 0
	}
	if maxByCap := int64(math.Floor(room / fill)); qty > maxByCap {
		qty = maxByCap
	}

	affordable := int64(math.Floor((s.pf.Cash() - s.cfg.Commission) / fill))
	if qty > affordable {
		qty = affordable
	}
	if qty < 0 {
		return 0
	}
	return qty
}

func (s *Simulator) record(t portfolio.Trade) error {
	if err := s.log.Append(t); err != nil {
		return err
	}
	s.metrics.RecordTrade(string(t.Type))
	return nil
}
