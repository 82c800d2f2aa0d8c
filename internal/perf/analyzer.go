// Package perf derives performance statistics from a completed trade log and
// equity history. Analysis is pure: re-running it on unchanged inputs yields
// identical results.
package perf

import (
	"fmt"
	"math"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/portfolio"
)

// tradingDaysPerYear is used to annualize returns and ratios.
const tradingDaysPerYear = 252

// Summary holds the derived performance statistics of one run.
type Summary struct {
	TotalReturn      float64 `json:"total_return"`      // net return over the run
	AnnualizedReturn float64 `json:"annualized_return"` // geometric, 252-day year
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"` // largest peak-to-trough decline

	TotalFills    int     `json:"total_fills"` // entries, pyramids and exits
	ExitTrades    int     `json:"exit_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // fraction of profitable exits
	ProfitFactor  float64 `json:"profit_factor"`

	// BySymbol is each ticker's realized P&L contribution.
	BySymbol map[string]float64 `json:"by_symbol"`
}

// Analyze computes the summary. It reports insufficient data instead of
// dividing by zero when fewer than two equity points exist.
func Analyze(trades []portfolio.Trade, equity []portfolio.EquityPoint) (*Summary, error) {
	if len(equity) < 2 {
		return nil, core.WrapError(core.ErrInsufficientData,
			fmt.Errorf("need at least 2 equity points, have %d", len(equity)))
	}
	first := equity[0].Equity
	if first <= 0 {
		return nil, core.WrapError(core.ErrInsufficientData,
			fmt.Errorf("non-positive starting equity %v", first))
	}

	s := &Summary{BySymbol: make(map[string]float64)}

	// Step returns off the equity curve.
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, equity[i].Equity/prev-1)
	}

	s.TotalReturn = equity[len(equity)-1].Equity/first - 1
	steps := float64(len(equity) - 1)
	if base := 1 + s.TotalReturn; base > 0 && steps > 0 {
		s.AnnualizedReturn = math.Pow(base, tradingDaysPerYear/steps) - 1
	}
	s.SharpeRatio = sharpe(returns)
	s.SortinoRatio = sortino(returns)
	s.MaxDrawdown = maxDrawdown(equity)

	var grossProfit, grossLoss float64
	for _, t := range trades {
		switch t.Type {
		case portfolio.TradeEntry, portfolio.TradePyramid:
			s.TotalFills++
		case portfolio.TradeExit, portfolio.TradePartialExit, portfolio.TradeStopOut:
			s.TotalFills++
			s.ExitTrades++
			s.BySymbol[t.Ticker] += t.RealizedPL
			if t.RealizedPL > 0 {
				s.WinningTrades++
				grossProfit += t.RealizedPL
			} else {
				s.LosingTrades++
				grossLoss += -t.RealizedPL
			}
		}
	}
	if s.ExitTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.ExitTrades)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	}

	return s, nil
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// sharpe computes the annualized Sharpe ratio assuming a zero risk-free rate.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var variance float64
	for _, r := range returns {
		variance += (r - m) * (r - m)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	if stdDev == 0 {
		return 0
	}
	return m * tradingDaysPerYear / (stdDev * math.Sqrt(tradingDaysPerYear))
}

// sortino penalizes only downside deviation.
func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var downside float64
	for _, r := range returns {
		if r < 0 {
			downside += r * r
		}
	}
	dd := math.Sqrt(downside / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return m * tradingDaysPerYear / (dd * math.Sqrt(tradingDaysPerYear))
}

// maxDrawdown finds the largest peak-to-trough decline of the equity curve.
func maxDrawdown(equity []portfolio.EquityPoint) float64 {
	var maxDD float64
	peak := math.Inf(-1)
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
