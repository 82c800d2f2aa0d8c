// Package portfolio owns the position lifecycle state machine, the cash and
// equity bookkeeping, and the append-only trade log. The execution simulator
// is the only writer.
package portfolio

import (
	"time"

	"github.com/google/uuid"

	"github.com/quantive/cascade/internal/core"
)

// TradeType classifies a trade-log record.
type TradeType string

const (
	TradeEntry       TradeType = "entry"
	TradeExit        TradeType = "exit"
	TradePartialExit TradeType = "partial_exit"
	TradePyramid     TradeType = "pyramid"
	TradeStopOut     TradeType = "stop_out"
	// TradeReject is a zero-quantity no-op record documenting why an entry
	// was not taken (capacity, concentration). Never an error.
	TradeReject TradeType = "reject"
)

// Reason codes recorded on trades.
const (
	ReasonBreakout      = "breakout"
	ReasonPyramid       = "pyramid_add"
	ReasonStopBreach    = "stop_breach"
	ReasonTargetReached = "target_reached"
	ReasonSignalExit    = "signal_exit"
	ReasonMaxPositions  = "max_positions"
	ReasonZeroSize      = "zero_size"
)

// Trade is one immutable fill/exit/no-op record.
type Trade struct {
	ID         string    `json:"id"`
	Ticker     string    `json:"ticker"`
	Type       TradeType `json:"type"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Time       time.Time `json:"time"`
	Reason     string    `json:"reason"`
	RealizedPL float64   `json:"realized_pl"`
	Commission float64   `json:"commission"`
}

// TradeLog is an ordered, append-only sequence of trades with non-decreasing
// timestamps.
type TradeLog struct {
	trades []Trade
}

// NewTradeLog creates an empty trade log.
func NewTradeLog() *TradeLog {
	return &TradeLog{}
}

// Append records a trade, assigning an ID when absent. Appending a trade
// older than the log tail is rejected.
func (l *TradeLog) Append(t Trade) error {
	if n := len(l.trades); n > 0 && t.Time.Before(l.trades[n-1].Time) {
		return core.ErrTradeLogOrder
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	l.trades = append(l.trades, t)
	return nil
}

// Len returns the number of recorded trades.
func (l *TradeLog) Len() int {
	return len(l.trades)
}

// Trades returns a copy of the log.
func (l *TradeLog) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Truncate drops trades recorded after length n. Used to roll back a
// partially applied step on abort so the log stays consistent with the last
// committed step.
func (l *TradeLog) Truncate(n int) {
	if n < 0 || n >= len(l.trades) {
		return
	}
	l.trades = l.trades[:n]
}
