package portfolio_test

import (
	"testing"
	"time"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/portfolio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestPortfolio_CashFlow(t *testing.T) {
	p := portfolio.New(100000)

	p.Debit(5000)
	p.Credit(1200)

	assert.InDelta(t, 96200.0, p.Cash(), 1e-9)
}

func TestPortfolio_TrackAndRemove(t *testing.T) {
	p := portfolio.New(100000)

	pos, err := portfolio.NewPosition("AAPL", 100, 50, 45, 55, 0.01, day(0))
	require.NoError(t, err)
	require.NoError(t, p.Track(pos))

	assert.Equal(t, 1, p.OpenCount())
	got, ok := p.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, pos, got)

	// Duplicate tickers are rejected: keys are unique.
	dup, err := portfolio.NewPosition("AAPL", 10, 51, 45, 55, 0.01, day(0))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Track(dup), core.ErrIllegalTransition)

	p.Remove("AAPL")
	assert.Equal(t, 0, p.OpenCount())
}

func TestPortfolio_OpenPositions_Sorted(t *testing.T) {
	p := portfolio.New(100000)
	for _, ticker := range []string{"MSFT", "AAPL", "NVDA"} {
		pos, err := portfolio.NewPosition(ticker, 10, 100, 90, 110, 0.01, day(0))
		require.NoError(t, err)
		require.NoError(t, p.Track(pos))
	}

	open := p.OpenPositions()
	require.Len(t, open, 3)
	assert.Equal(t, "AAPL", open[0].Ticker)
	assert.Equal(t, "MSFT", open[1].Ticker)
	assert.Equal(t, "NVDA", open[2].Ticker)
}

func TestPortfolio_EquityAndSnapshot(t *testing.T) {
	p := portfolio.New(100000)

	pos, err := portfolio.NewPosition("AAPL", 100, 50, 45, 55, 0.01, day(0))
	require.NoError(t, err)
	require.NoError(t, p.Track(pos))
	p.Debit(100 * 50)

	prices := map[string]float64{"AAPL": 52}
	assert.InDelta(t, 95000+5200, p.Equity(prices), 1e-9)

	point := p.Snapshot(day(1), prices)
	assert.InDelta(t, 100200.0, point.Equity, 1e-9)
	assert.Equal(t, 1, point.OpenPositions)
	assert.Len(t, p.History(), 1)

	// Unknown price falls back to average entry.
	assert.InDelta(t, 95000+5000, p.Equity(nil), 1e-9)
}

func TestPortfolio_CheckInvariants(t *testing.T) {
	p := portfolio.New(100000)
	pos, err := portfolio.NewPosition("AAPL", 100, 50, 45, 55, 0.01, day(0))
	require.NoError(t, err)
	require.NoError(t, p.Track(pos))
	p.Debit(5000)

	prices := map[string]float64{"AAPL": 52}
	p.Snapshot(day(1), prices)
	assert.NoError(t, p.CheckInvariants(prices))

	// Diverging prices make the last snapshot stale: invariant (a) trips.
	err = p.CheckInvariants(map[string]float64{"AAPL": 60})
	assert.ErrorIs(t, err, core.ErrInvariantViolation)
}

func TestPortfolio_CheckInvariants_NegativeCash(t *testing.T) {
	p := portfolio.New(100)
	p.Debit(500)
	assert.ErrorIs(t, p.CheckInvariants(nil), core.ErrInvariantViolation)
}

func TestPortfolio_TruncateHistory(t *testing.T) {
	p := portfolio.New(1000)
	p.Snapshot(day(0), nil)
	p.Snapshot(day(1), nil)

	p.TruncateHistory(1)
	require.Len(t, p.History(), 1)
	assert.True(t, p.History()[0].Time.Equal(day(0)))
}
