// Package series holds ordered per-symbol bar history and the provider
// interface through which the upstream indicator/data layer supplies it.
package series

import (
	"context"
	"sort"
	"time"

	"github.com/quantive/cascade/internal/core"
)

// Series is an ordered, append-only bar history for one symbol.
// Bars are sorted ascending by time.
type Series struct {
	Symbol string
	Bars   []core.SeriesBar
}

// Provider supplies per-symbol bar history. Implementations live outside the
// simulation core (file loaders, upstream services); the core never fetches
// raw market data itself.
type Provider interface {
	// Symbols lists the universe available from this provider.
	Symbols(ctx context.Context) ([]string, error)
	// Daily returns the full daily history for a symbol.
	Daily(ctx context.Context, symbol string) (*Series, error)
	// Weekly returns the full weekly history for a symbol.
	Weekly(ctx context.Context, symbol string) (*Series, error)
}

// New builds a Series from bars, sorting them by time.
func New(symbol string, bars []core.SeriesBar) *Series {
	sorted := make([]core.SeriesBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	return &Series{Symbol: symbol, Bars: sorted}
}

// Len returns the number of bars.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Last returns the most recent bar.
func (s *Series) Last() (core.SeriesBar, bool) {
	if s.Len() == 0 {
		return core.SeriesBar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Until returns a view containing only bars timestamped at or before t.
// The view shares backing storage with the receiver; callers must not mutate it.
func (s *Series) Until(t time.Time) *Series {
	if s == nil {
		return nil
	}
	n := sort.Search(len(s.Bars), func(i int) bool { return s.Bars[i].Time.After(t) })
	return &Series{Symbol: s.Symbol, Bars: s.Bars[:n]}
}

// DropLast returns a view without the most recent bar. Used by retrospective
// evaluation, where decisions for step t may only read data through step t-1.
func (s *Series) DropLast() *Series {
	if s.Len() == 0 {
		return s
	}
	return &Series{Symbol: s.Symbol, Bars: s.Bars[:len(s.Bars)-1]}
}

// Closes returns the close prices in time order.
func (s *Series) Closes() []float64 {
	out := make([]float64, s.Len())
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Highs returns the high prices in time order.
func (s *Series) Highs() []float64 {
	out := make([]float64, s.Len())
	for i, b := range s.Bars {
		out[i] = b.High
	}
	return out
}

// Lows returns the low prices in time order.
func (s *Series) Lows() []float64 {
	out := make([]float64, s.Len())
	for i, b := range s.Bars {
		out[i] = b.Low
	}
	return out
}

// At returns the bar at exactly t.
func (s *Series) At(t time.Time) (core.SeriesBar, bool) {
	if s == nil {
		return core.SeriesBar{}, false
	}
	i := sort.Search(len(s.Bars), func(i int) bool { return !s.Bars[i].Time.Before(t) })
	if i < len(s.Bars) && s.Bars[i].Time.Equal(t) {
		return s.Bars[i], true
	}
	return core.SeriesBar{}, false
}

// Timeline returns the sorted union of bar timestamps across series.
func Timeline(all ...*Series) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, s := range all {
		if s == nil {
			continue
		}
		for _, b := range s.Bars {
			seen[b.Time] = struct{}{}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Resample aggregates daily bars into weekly bars (ISO weeks): last close,
// max high, min low, summed volume. Derived and fundamental fields carry over
// from the final bar of each week.
func Resample(s *Series) *Series {
	if s.Len() == 0 {
		return &Series{Symbol: s.Symbol}
	}

	var weekly []core.SeriesBar
	var cur core.SeriesBar
	curYear, curWeek := -1, -1

	for _, b := range s.Bars {
		y, w := b.Time.ISOWeek()
		if y != curYear || w != curWeek {
			if curYear >= 0 {
				weekly = append(weekly, cur)
			}
			cur = b
			curYear, curWeek = y, w
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Volume += b.Volume
		// Carry the latest close, timestamp and derived fields.
		open := cur.Open
		openTime := cur.Time
		high, low, vol := cur.High, cur.Low, cur.Volume
		cur = b
		cur.Open = open
		cur.Time = openTime
		cur.High, cur.Low, cur.Volume = high, low, vol
	}
	weekly = append(weekly, cur)

	return &Series{Symbol: s.Symbol, Bars: weekly}
}
