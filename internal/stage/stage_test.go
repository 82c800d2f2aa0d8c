package stage

import (
	"math"
	"testing"
	"time"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

// fundBar builds a bar with healthy fundamentals that pass the default
// E and F configs used in these tests.
func fundBar(t time.Time) core.SeriesBar {
	b := core.NewBar("TEST", t)
	b.Open, b.High, b.Low, b.Close = 100, 101, 99, 100
	b.Volume = 1000
	b.MarketCap = 5e9
	b.Revenue = 1e9
	b.RevenueGrowth = 0.30
	b.EPSGrowth = 0.40
	b.PrevRevenueGrowth = 0.10
	b.PrevEPSGrowth = 0.20
	return b
}

func singleBarSeries(b core.SeriesBar) *series.Series {
	return series.New(b.Symbol, []core.SeriesBar{b})
}

func TestEarnings(t *testing.T) {
	filter := NewEarnings(EarningsConfig{RevenueGrowthFloor: 0.2, EPSGrowthFloor: 0.2})

	t.Run("pass", func(t *testing.T) {
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(fundBar(day(0)))})
		assert.True(t, res.Pass)
		assert.Equal(t, core.StageEarnings, res.Stage)
		assert.False(t, core.IsFinite(res.TargetPrice), "E stage emits no prices")
	})

	t.Run("below floor", func(t *testing.T) {
		b := fundBar(day(0))
		b.RevenueGrowth = 0.15
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(b)})
		assert.False(t, res.Pass)
	})

	t.Run("no improvement", func(t *testing.T) {
		b := fundBar(day(0))
		b.PrevEPSGrowth = 0.50
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(b)})
		assert.False(t, res.Pass)
	})

	t.Run("missing field fails closed", func(t *testing.T) {
		b := fundBar(day(0))
		b.EPSGrowth = math.NaN()
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(b)})
		assert.False(t, res.Pass)
	})

	t.Run("empty series", func(t *testing.T) {
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: series.New("TEST", nil)})
		assert.False(t, res.Pass)
	})
}

func TestFundamental(t *testing.T) {
	filter := NewFundamental(FundamentalConfig{MinMarketCap: 1e9, MaxMarketCap: 1e10, GrowthThreshold: 0.25})

	t.Run("pass", func(t *testing.T) {
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(fundBar(day(0)))})
		assert.True(t, res.Pass)
	})

	t.Run("cap out of band", func(t *testing.T) {
		b := fundBar(day(0))
		b.MarketCap = 5e10
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(b)})
		assert.False(t, res.Pass)
	})

	t.Run("negative revenue", func(t *testing.T) {
		b := fundBar(day(0))
		b.Revenue = -1
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(b)})
		assert.False(t, res.Pass)
	})

	t.Run("either growth suffices", func(t *testing.T) {
		b := fundBar(day(0))
		b.RevenueGrowth = 0.05
		b.EPSGrowth = 0.40
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(b)})
		assert.True(t, res.Pass)

		b.EPSGrowth = 0.05
		res = filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(b)})
		assert.False(t, res.Pass)
	})

	t.Run("NaN growth on one ratio still passes via the other", func(t *testing.T) {
		b := fundBar(day(0))
		b.RevenueGrowth = math.NaN()
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: singleBarSeries(b)})
		assert.True(t, res.Pass)
	})
}

// weeklySeries builds count weekly bars forming a tight flat base so the
// default WeeklyConfig passes, with hooks to break individual conditions.
func weeklySeries(count int) *series.Series {
	bars := make([]core.SeriesBar, count)
	for i := range bars {
		b := core.NewBar("TEST", day(i*7))
		// Gently rising lows, stable highs near 110.
		b.Low = 80 + float64(i)*0.5
		b.High = 110
		b.Open = b.Low + 1
		b.Close = 105
		b.Volume = 1000
		bars[i] = b
	}
	return series.New("TEST", bars)
}

func weeklyCfg() WeeklyConfig {
	return WeeklyConfig{
		ShortWindow:   4,
		LongWindow:    8,
		HighTolerance: 0.05,
		MinAboveLow:   1.05,
		NearHighRatio: 0.75,
	}
}

func TestWeekly(t *testing.T) {
	filter := NewWeekly(weeklyCfg())

	t.Run("pass", func(t *testing.T) {
		res := filter.Evaluate(Context{Symbol: "TEST", Weekly: weeklySeries(12)})
		assert.True(t, res.Pass)
	})

	t.Run("insufficient history", func(t *testing.T) {
		res := filter.Evaluate(Context{Symbol: "TEST", Weekly: weeklySeries(9)})
		assert.False(t, res.Pass)
	})

	t.Run("high outside short window", func(t *testing.T) {
		s := weeklySeries(12)
		// A spike early in the long window means the short-window high no
		// longer equals the long-window high.
		s.Bars[4].High = 140
		res := filter.Evaluate(Context{Symbol: "TEST", Weekly: s})
		assert.False(t, res.Pass)
	})

	t.Run("unstable recent high", func(t *testing.T) {
		s := weeklySeries(12)
		s.Bars[len(s.Bars)-1].High = 130 // >5% above the prior short-window high
		res := filter.Evaluate(Context{Symbol: "TEST", Weekly: s})
		assert.False(t, res.Pass)
	})

	t.Run("close too near the low", func(t *testing.T) {
		s := weeklySeries(12)
		s.Bars[len(s.Bars)-1].Close = 84 // just above llLong=82, under 1.05x
		res := filter.Evaluate(Context{Symbol: "TEST", Weekly: s})
		assert.False(t, res.Pass)
	})

	t.Run("close too far from the high", func(t *testing.T) {
		s := weeklySeries(12)
		s.Bars[len(s.Bars)-1].Close = 70 // under 0.75 * 110
		res := filter.Evaluate(Context{Symbol: "TEST", Weekly: s})
		assert.False(t, res.Pass)
	})

	t.Run("flat lows fail the rising-base condition", func(t *testing.T) {
		s := weeklySeries(12)
		for i := range s.Bars {
			s.Bars[i].Low = 80
		}
		res := filter.Evaluate(Context{Symbol: "TEST", Weekly: s})
		assert.False(t, res.Pass)
	})
}

func TestRelStrength(t *testing.T) {
	filter := NewRelStrength(DefaultRSConfig())

	mk := func(pct float64) *series.Series {
		b := fundBar(day(0))
		b.RSPercentile = pct
		return singleBarSeries(b)
	}

	res := filter.Evaluate(Context{Symbol: "TEST", Daily: mk(95)})
	assert.True(t, res.Pass)

	res = filter.Evaluate(Context{Symbol: "TEST", Daily: mk(89)})
	assert.False(t, res.Pass)

	res = filter.Evaluate(Context{Symbol: "TEST", Daily: mk(math.NaN())})
	assert.False(t, res.Pass, "missing percentile fails closed")
}

// dailySeries builds count bars trending up with MAs aligned and a prior
// high of 110 that the last close either clears or not.
func dailySeries(count int, lastClose float64) *series.Series {
	bars := make([]core.SeriesBar, count)
	for i := range bars {
		b := core.NewBar("TEST", day(i))
		b.Open, b.Close = 100, 100
		b.High, b.Low = 110, 95
		b.Volume = 1000
		b.MAShort = 105
		b.MALong = 100 + float64(i)*0.1 // rising long MA
		b.RSPercentile = 95
		bars[i] = b
	}
	bars[count-1].Close = lastClose
	return series.New("TEST", bars)
}

func dailyCfg() DailyConfig {
	return DailyConfig{
		MomentumLookback: 5,
		StopFraction:     0.1,
		BreakoutWindows:  []int{20, 10, 5},
		RS:               DefaultRSConfig(),
	}
}

func TestDaily_Retrospective(t *testing.T) {
	filter := NewDaily(dailyCfg())

	t.Run("breakout already happened", func(t *testing.T) {
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: dailySeries(30, 111), Mode: core.ModeRetrospective})
		require.True(t, res.Pass)
		assert.Equal(t, 110.0, res.TargetPrice)
		assert.InDelta(t, 99.0, res.StopPrice, 1e-9)
		assert.Equal(t, "high_20d", res.Label, "longest window wins")
	})

	t.Run("no breakout", func(t *testing.T) {
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: dailySeries(30, 105), Mode: core.ModeRetrospective})
		assert.False(t, res.Pass)
	})

	t.Run("falls back to shorter window", func(t *testing.T) {
		s := dailySeries(30, 111)
		// Make the 20-day high unreachable; the 10-day scan should match.
		for i := 0; i < len(s.Bars)-10; i++ {
			s.Bars[i].High = 150
		}
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: s, Mode: core.ModeRetrospective})
		require.True(t, res.Pass)
		assert.Equal(t, "high_10d", res.Label)
	})
}

func TestDaily_Forward(t *testing.T) {
	filter := NewDaily(dailyCfg())

	// Below the level: in forward mode the level is a pending target.
	res := filter.Evaluate(Context{Symbol: "TEST", Daily: dailySeries(30, 105), Mode: core.ModeForward})
	require.True(t, res.Pass)
	assert.Equal(t, 110.0, res.TargetPrice)

	// Already through the level: nothing pending.
	res = filter.Evaluate(Context{Symbol: "TEST", Daily: dailySeries(30, 111), Mode: core.ModeForward})
	assert.False(t, res.Pass)
}

func TestDaily_StructureGates(t *testing.T) {
	filter := NewDaily(dailyCfg())

	t.Run("falling long MA", func(t *testing.T) {
		s := dailySeries(30, 111)
		for i := range s.Bars {
			s.Bars[i].MALong = 110 - float64(i)*0.1
		}
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: s, Mode: core.ModeRetrospective})
		assert.False(t, res.Pass)
	})

	t.Run("short MA under long MA", func(t *testing.T) {
		s := dailySeries(30, 111)
		for i := range s.Bars {
			s.Bars[i].MAShort = 90
		}
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: s, Mode: core.ModeRetrospective})
		assert.False(t, res.Pass)
	})

	t.Run("weak relative strength", func(t *testing.T) {
		s := dailySeries(30, 111)
		s.Bars[len(s.Bars)-1].RSPercentile = 50
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: s, Mode: core.ModeRetrospective})
		assert.False(t, res.Pass)
	})

	t.Run("missing MA fails closed", func(t *testing.T) {
		s := dailySeries(30, 111)
		s.Bars[len(s.Bars)-1].MALong = math.NaN()
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: s, Mode: core.ModeRetrospective})
		assert.False(t, res.Pass)
	})

	t.Run("insufficient history", func(t *testing.T) {
		res := filter.Evaluate(Context{Symbol: "TEST", Daily: dailySeries(4, 111), Mode: core.ModeRetrospective})
		assert.False(t, res.Pass)
	})
}
