package portfolio

import (
	"fmt"
	"time"

	"github.com/quantive/cascade/internal/core"
)

// State is the lifecycle state of a position.
type State string

const (
	StateOpen            State = "open"
	StatePartiallyClosed State = "partially_closed"
	StateClosed          State = "closed"
)

// Position is a holding in one ticker. Legal transitions:
//
//	Open -> Open             (pyramid add)
//	Open -> PartiallyClosed  (partial exit)
//	Open -> Closed           (full exit / stop-out)
//	PartiallyClosed -> Closed
//
// All other transitions are rejected.
type Position struct {
	Ticker        string
	Quantity      int64
	AvgEntryPrice float64
	StopPrice     float64
	TargetPrice   float64
	EntryTime     time.Time
	DaysHeld      int
	RiskFraction  float64
	PyramidLevel  int
	State         State
}

// NewPosition opens a position with an initial fill.
func NewPosition(ticker string, qty int64, price, stop, target, riskFraction float64, at time.Time) (*Position, error) {
	if qty <= 0 {
		return nil, core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("open %s with quantity %d", ticker, qty))
	}
	if price <= 0 {
		return nil, core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("open %s at price %f", ticker, price))
	}
	return &Position{
		Ticker:        ticker,
		Quantity:      qty,
		AvgEntryPrice: price,
		StopPrice:     stop,
		TargetPrice:   target,
		EntryTime:     at,
		RiskFraction:  riskFraction,
		State:         StateOpen,
	}, nil
}

// Add scales into an open position (pyramiding). The average entry price is
// re-weighted; the lifecycle state stays Open.
func (p *Position) Add(qty int64, price float64) error {
	if p.State != StateOpen {
		return core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("pyramid %s in state %s", p.Ticker, p.State))
	}
	if qty <= 0 || price <= 0 {
		return core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("pyramid %s: qty=%d price=%f", p.Ticker, qty, price))
	}

	total := float64(p.Quantity)*p.AvgEntryPrice + float64(qty)*price
	p.Quantity += qty
	p.AvgEntryPrice = total / float64(p.Quantity)
	p.PyramidLevel++
	return nil
}

// Reduce closes part of the position and returns the realized P&L of the
// closed lot. The remainder must stay positive; use Close for full exits.
func (p *Position) Reduce(qty int64, price float64) (float64, error) {
	if p.State == StateClosed {
		return 0, core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("reduce %s: already closed", p.Ticker))
	}
	if qty <= 0 || qty >= p.Quantity {
		return 0, core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("reduce %s by %d of %d", p.Ticker, qty, p.Quantity))
	}

	realized := (price - p.AvgEntryPrice) * float64(qty)
	p.Quantity -= qty
	p.State = StatePartiallyClosed
	return realized, nil
}

// Close exits the remaining quantity and returns the realized P&L.
func (p *Position) Close(price float64) (float64, error) {
	if p.State == StateClosed {
		return 0, core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("close %s: already closed", p.Ticker))
	}
	if p.Quantity <= 0 {
		return 0, core.WrapError(core.ErrIllegalTransition,
			fmt.Errorf("close %s with quantity %d", p.Ticker, p.Quantity))
	}

	realized := (price - p.AvgEntryPrice) * float64(p.Quantity)
	p.Quantity = 0
	p.State = StateClosed
	return realized, nil
}

// MarketValue returns the position value at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return float64(p.Quantity) * price
}

// IsOpen reports whether the position still holds shares.
func (p *Position) IsOpen() bool {
	return p.State == StateOpen || p.State == StatePartiallyClosed
}
