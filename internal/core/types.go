package core

import (
	"math"
	"time"
)

// Mode selects the timing semantics of a simulation run.
type Mode string

const (
	// ModeRetrospective evaluates each step on data as of the prior completed
	// period and treats a breakout level as already exceeded.
	ModeRetrospective Mode = "retrospective"
	// ModeForward evaluates on the most recent available data and treats a
	// breakout level as a pending target the price still sits below.
	ModeForward Mode = "forward"
)

// IsValid reports whether the mode is one of the two known values.
func (m Mode) IsValid() bool {
	return m == ModeRetrospective || m == ModeForward
}

// StageID identifies one filter in the cascade.
type StageID string

const (
	StageEarnings    StageID = "E"
	StageFundamental StageID = "F"
	StageWeekly      StageID = "W"
	StageRS          StageID = "RS"
	StageDaily       StageID = "D"
)

// StageOrder is the canonical evaluation order of the cascade.
var StageOrder = []StageID{StageEarnings, StageFundamental, StageWeekly, StageRS, StageDaily}

// SeriesBar is one symbol's bar at one timestamp, with the derived indicator
// and fundamental fields supplied by the upstream data layer. Fields the
// upstream layer could not compute are NaN; stages fail closed on them.
type SeriesBar struct {
	Symbol string
	Time   time.Time

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64

	// Derived technicals.
	MAShort       float64 // short simple moving average (e.g. 50d)
	MALong        float64 // long simple moving average (e.g. 200d)
	RSPercentile  float64 // relative-strength percentile rank, 0-100
	High52        float64 // rolling 52-period high
	Low52         float64 // rolling 52-period low
	AvgDailyRange float64 // average (high-low) over a trailing window

	// Fundamentals, constant across bars of a reporting period.
	MarketCap         float64
	Revenue           float64
	RevenueGrowth     float64 // trailing YoY revenue growth ratio
	EPSGrowth         float64 // trailing YoY EPS growth ratio
	PrevRevenueGrowth float64 // prior comparable period's revenue growth
	PrevEPSGrowth     float64 // prior comparable period's EPS growth
}

// NewBar returns a bar with all derived and fundamental fields unset (NaN),
// so a partially populated bar fails stages closed instead of passing on
// zero values.
func NewBar(symbol string, t time.Time) SeriesBar {
	nan := math.NaN()
	return SeriesBar{
		Symbol:            symbol,
		Time:              t,
		MAShort:           nan,
		MALong:            nan,
		RSPercentile:      nan,
		High52:            nan,
		Low52:             nan,
		AvgDailyRange:     nan,
		MarketCap:         nan,
		Revenue:           nan,
		RevenueGrowth:     nan,
		EPSGrowth:         nan,
		PrevRevenueGrowth: nan,
		PrevEPSGrowth:     nan,
	}
}

// HasPrices reports whether the OHLC fields are finite and usable for fills.
func (b SeriesBar) HasPrices() bool {
	return IsFinite(b.Open) && IsFinite(b.High) && IsFinite(b.Low) && IsFinite(b.Close) &&
		b.Close > 0 && b.High >= b.Low
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AllFinite reports whether every value is finite.
func AllFinite(vs ...float64) bool {
	for _, v := range vs {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}
