package sim_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/pipeline"
	"github.com/quantive/cascade/internal/portfolio"
	"github.com/quantive/cascade/internal/series"
	"github.com/quantive/cascade/internal/sim"
	"github.com/quantive/cascade/internal/stage"
)

// memProvider serves pre-built series from memory.
type memProvider struct {
	data map[string]*series.Series
}

func (m memProvider) Symbols(context.Context) ([]string, error) {
	out := make([]string, 0, len(m.data))
	for sym := range m.data {
		out = append(out, sym)
	}
	return out, nil
}

func (m memProvider) Daily(_ context.Context, symbol string) (*series.Series, error) {
	s, ok := m.data[symbol]
	if !ok {
		return nil, core.ErrSymbolNotFound
	}
	return s, nil
}

func (m memProvider) Weekly(ctx context.Context, symbol string) (*series.Series, error) {
	s, err := m.Daily(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return series.Resample(s), nil
}

// levelFilter passes when the latest close reaches level, emitting the close
// as the breakout target with a 5% stop.
type levelFilter struct {
	level float64
}

func (f levelFilter) ID() core.StageID { return core.StageDaily }

func (f levelFilter) Evaluate(c stage.Context) stage.Result {
	res := stage.Result{Symbol: c.Symbol, Stage: f.ID(), TargetPrice: math.NaN(), StopPrice: math.NaN()}
	last, ok := c.Daily.Last()
	if !ok || last.Close < f.level {
		return res
	}
	res.Pass = true
	res.TargetPrice = last.Close
	res.StopPrice = last.Close * 0.95
	return res
}

func closeSeries(sym string, closes ...float64) *series.Series {
	bars := make([]core.SeriesBar, len(closes))
	for i, c := range closes {
		bars[i] = flatBar(sym, day(i), c)
	}
	return series.New(sym, bars)
}

func newBacktester(p series.Provider, cfg sim.Config, mode core.Mode, filter stage.Filter) *sim.Backtester {
	runner := pipeline.NewRunner([]stage.Filter{filter}, pipeline.Config{Workers: 2}, nil, nil)
	return sim.NewBacktester(p, runner, cfg, mode, nil, nil)
}

func TestRun_FlatSeriesProducesNoTrades(t *testing.T) {
	provider := memProvider{data: map[string]*series.Series{
		"AAPL": closeSeries("AAPL", 100, 100, 100, 100, 100),
	}}
	bt := newBacktester(provider, quietConfig(), core.ModeRetrospective, levelFilter{level: 105})

	res, err := bt.Run(context.Background(), []string{"AAPL"}, day(0), day(4))
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.Equity, 5)
	for _, p := range res.Equity {
		assert.InDelta(t, 100000.0, p.Equity, 1e-9)
	}
	require.NotNil(t, res.Summary)
	assert.Zero(t, res.Summary.TotalReturn)
}

func TestRun_RetrospectiveEntryAndStopOut(t *testing.T) {
	// The close crosses the level on day 5. Retrospective decisions read bars
	// through the prior day, so the entry fills on day 6, and the day 9 slide
	// through the stop closes it.
	daily := closeSeries("AAPL", 100, 100, 100, 100, 100, 106, 106, 106, 106, 90)
	provider := memProvider{data: map[string]*series.Series{"AAPL": daily}}
	bt := newBacktester(provider, quietConfig(), core.ModeRetrospective, levelFilter{level: 105})

	res, err := bt.Run(context.Background(), []string{"AAPL"}, day(0), day(9))
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)

	entry := res.Trades[0]
	assert.Equal(t, portfolio.TradeEntry, entry.Type)
	assert.True(t, entry.Time.Equal(day(6)), "signal from day 5 data fills on day 6")
	assert.InDelta(t, 106.0, entry.Price, 1e-9)

	stop := res.Trades[1]
	assert.Equal(t, portfolio.TradeStopOut, stop.Type)
	assert.True(t, stop.Time.Equal(day(9)))
	assert.InDelta(t, 106.0*0.95, stop.Price, 1e-9)
	assert.Negative(t, stop.RealizedPL)

	require.NotNil(t, res.Summary)
	assert.Equal(t, 2, res.Summary.TotalFills)
	assert.Negative(t, res.Summary.TotalReturn)
}

func TestRun_NoLookAhead(t *testing.T) {
	// The breakout day itself must not trigger a same-day entry in
	// retrospective mode.
	daily := closeSeries("AAPL", 100, 100, 106)
	provider := memProvider{data: map[string]*series.Series{"AAPL": daily}}
	bt := newBacktester(provider, quietConfig(), core.ModeRetrospective, levelFilter{level: 105})

	res, err := bt.Run(context.Background(), []string{"AAPL"}, day(0), day(2))
	require.NoError(t, err)
	assert.Empty(t, res.Trades, "day 2 breakout is only actionable on day 3")
}

func TestRun_SignalExitOnTrendBreak(t *testing.T) {
	bars := make([]core.SeriesBar, 8)
	for i := range bars {
		c := 100.0
		if i >= 3 {
			c = 106
		}
		b := flatBar("AAPL", day(i), c)
		b.MALong = 103
		bars[i] = b
	}
	// The final close drops under the long average without touching the stop.
	bars[7].Open, bars[7].High, bars[7].Low, bars[7].Close = 102, 102, 102, 102

	provider := memProvider{data: map[string]*series.Series{"AAPL": series.New("AAPL", bars)}}
	cfg := quietConfig()
	cfg.SignalExitOnTrendBreak = true
	bt := newBacktester(provider, cfg, core.ModeRetrospective, levelFilter{level: 105})

	res, err := bt.Run(context.Background(), []string{"AAPL"}, day(0), day(7))
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, portfolio.TradeEntry, res.Trades[0].Type)
	exit := res.Trades[1]
	assert.Equal(t, portfolio.TradeExit, exit.Type)
	assert.Equal(t, portfolio.ReasonSignalExit, exit.Reason)
	assert.True(t, exit.Time.Equal(day(7)))
	assert.InDelta(t, 102.0, exit.Price, 1e-9)
}

func TestRun_UnknownSymbolIsDropped(t *testing.T) {
	provider := memProvider{data: map[string]*series.Series{
		"AAPL": closeSeries("AAPL", 100, 100, 100),
	}}
	bt := newBacktester(provider, quietConfig(), core.ModeRetrospective, levelFilter{level: 105})

	res, err := bt.Run(context.Background(), []string{"AAPL", "GHOST"}, day(0), day(2))
	require.NoError(t, err, "a missing symbol degrades to a skip")
	assert.Len(t, res.Equity, 3)
}

func TestRun_EmptyWindow(t *testing.T) {
	provider := memProvider{data: map[string]*series.Series{
		"AAPL": closeSeries("AAPL", 100, 100),
	}}
	bt := newBacktester(provider, quietConfig(), core.ModeRetrospective, levelFilter{level: 105})

	res, err := bt.Run(context.Background(), []string{"AAPL"}, day(10), day(20))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Equity)
	assert.Nil(t, res.Summary)
}

func TestRun_Cancellation(t *testing.T) {
	provider := memProvider{data: map[string]*series.Series{
		"AAPL": closeSeries("AAPL", 100, 100, 100),
	}}
	bt := newBacktester(provider, quietConfig(), core.ModeRetrospective, levelFilter{level: 105})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := bt.Run(ctx, []string{"AAPL"}, day(0), day(2))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res, "partial result survives cancellation")
	assert.Empty(t, res.Trades)
}

func TestScan_ForwardModePendingSetups(t *testing.T) {
	// Forward mode flags symbols still below the level as pending setups.
	provider := memProvider{data: map[string]*series.Series{
		"AAPL": closeSeries("AAPL", 100, 100, 103),
		"MSFT": closeSeries("MSFT", 100, 100, 98),
	}}

	pending := pendingFilter{level: 105}
	bt := newBacktester(provider, quietConfig(), core.ModeForward, pending)

	candidates, err := bt.Scan(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	for _, c := range candidates {
		assert.InDelta(t, 105.0, c.TargetPrice, 1e-9)
	}
}

// pendingFilter mirrors forward-mode breakout semantics: the level is a
// target the price has not reached yet.
type pendingFilter struct {
	level float64
}

func (f pendingFilter) ID() core.StageID { return core.StageDaily }

func (f pendingFilter) Evaluate(c stage.Context) stage.Result {
	res := stage.Result{Symbol: c.Symbol, Stage: f.ID(), TargetPrice: math.NaN(), StopPrice: math.NaN()}
	last, ok := c.Daily.Last()
	if !ok || last.Close >= f.level {
		return res
	}
	res.Pass = true
	res.TargetPrice = f.level
	res.StopPrice = f.level * 0.95
	res.Label = fmt.Sprintf("pending_%.0f", f.level)
	return res
}
