package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quantive/cascade/internal/core"
)

// equityTolerance bounds acceptable floating drift in the cash/equity
// invariant check.
const equityTolerance = 1e-6

// EquityPoint is one entry of the append-only equity history.
type EquityPoint struct {
	Time          time.Time `json:"time"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	OpenPositions int       `json:"open_positions"`
}

// Portfolio owns the cash balance and the open-position set. All mutation
// goes through the execution simulator on the main simulation goroutine, so
// no locking is needed here.
type Portfolio struct {
	cash       float64
	positions  map[string]*Position
	realizedPL float64
	history    []EquityPoint
}

// New creates a portfolio with the given starting cash.
func New(initialCash float64) *Portfolio {
	return &Portfolio{
		cash:      initialCash,
		positions: make(map[string]*Position),
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// Debit reduces cash by amount (entry cost, commission).
func (p *Portfolio) Debit(amount float64) { p.cash -= amount }

// Credit increases cash by amount (exit proceeds).
func (p *Portfolio) Credit(amount float64) { p.cash += amount }

// AddRealized accumulates realized P&L.
func (p *Portfolio) AddRealized(v float64) { p.realizedPL += v }

// RealizedPL returns accumulated realized P&L.
func (p *Portfolio) RealizedPL() float64 { return p.realizedPL }

// Position returns the open position for a ticker.
func (p *Portfolio) Position(ticker string) (*Position, bool) {
	pos, ok := p.positions[ticker]
	return pos, ok
}

// Track inserts a freshly opened position. Tickers are unique keys.
func (p *Portfolio) Track(pos *Position) error {
	if _, exists := p.positions[pos.Ticker]; exists {
		return core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("position %s already tracked", pos.Ticker))
	}
	p.positions[pos.Ticker] = pos
	return nil
}

// Remove drops a fully closed position from the open set.
func (p *Portfolio) Remove(ticker string) {
	delete(p.positions, ticker)
}

// OpenCount returns the number of open positions.
func (p *Portfolio) OpenCount() int { return len(p.positions) }

// OpenPositions returns open positions sorted by ticker for deterministic
// iteration.
func (p *Portfolio) OpenPositions() []*Position {
	out := make([]*Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Equity returns cash plus the market value of open positions at the given
// prices. A ticker absent from prices is valued at its average entry price.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	equity := p.cash
	for ticker, pos := range p.positions {
		price, ok := prices[ticker]
		if !ok || !core.IsFinite(price) {
			price = pos.AvgEntryPrice
		}
		equity += pos.MarketValue(price)
	}
	return equity
}

// Snapshot appends an equity-history point for the step and returns it.
func (p *Portfolio) Snapshot(t time.Time, prices map[string]float64) EquityPoint {
	point := EquityPoint{
		Time:          t,
		Equity:        p.Equity(prices),
		Cash:          p.cash,
		OpenPositions: len(p.positions),
	}
	p.history = append(p.history, point)
	return point
}

// History returns a copy of the equity history.
func (p *Portfolio) History() []EquityPoint {
	out := make([]EquityPoint, len(p.history))
	copy(out, p.history)
	return out
}

// TruncateHistory drops points appended after length n; see TradeLog.Truncate.
func (p *Portfolio) TruncateHistory(n int) {
	if n < 0 || n >= len(p.history) {
		return
	}
	p.history = p.history[:n]
}

// CheckInvariants verifies post-step consistency: finite non-negative cash,
// positive quantities on open positions, and agreement between the latest
// equity snapshot and an independent recomputation. A violation is fatal for
// the run.
func (p *Portfolio) CheckInvariants(prices map[string]float64) error {
	if !core.IsFinite(p.cash) {
		return core.WrapError(core.ErrInvariantViolation,
			fmt.Errorf("cash is not finite: %v", p.cash))
	}
	if p.cash < -equityTolerance {
		return core.WrapError(core.ErrInvariantViolation,
			fmt.Errorf("cash is negative: %v", p.cash))
	}
	for ticker, pos := range p.positions {
		if pos.Quantity <= 0 {
			return core.WrapError(core.ErrInvariantViolation,
				fmt.Errorf("open position %s has quantity %d", ticker, pos.Quantity))
		}
		if !pos.IsOpen() {
			return core.WrapError(core.ErrInvariantViolation,
				fmt.Errorf("closed position %s still tracked", ticker))
		}
	}
	if n := len(p.history); n > 0 {
		want := p.Equity(prices)
		got := p.history[n-1].Equity
		if math.Abs(want-got) > equityTolerance*math.Max(1, math.Abs(want)) {
			return core.WrapError(core.ErrInvariantViolation,
				fmt.Errorf("equity snapshot %v != cash+positions %v", got, want))
		}
	}
	return nil
}
