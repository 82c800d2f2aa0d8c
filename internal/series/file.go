package series

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/indicator"
)

// Derivation windows for files that ship plain OHLCV without the upstream
// layer's precomputed columns.
const (
	maShortPeriod = 50
	maLongPeriod  = 200
	adrPeriod     = 20
)

// FileProvider implements Provider over a directory of per-symbol CSV files
// (one SYMBOL.csv per symbol) written by the upstream indicator layer.
// Weekly history is resampled from daily on demand and cached.
type FileProvider struct {
	dir string

	mu     sync.Mutex
	daily  map[string]*Series
	weekly map[string]*Series
}

// NewFileProvider creates a FileProvider rooted at dir.
func NewFileProvider(dir string) (*FileProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data path %s is not a directory", dir)
	}
	return &FileProvider{
		dir:    dir,
		daily:  make(map[string]*Series),
		weekly: make(map[string]*Series),
	}, nil
}

// Symbols lists symbols by scanning for .csv files.
func (p *FileProvider) Symbols(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("reading data dir: %w", err)
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Daily loads and caches the daily series for a symbol.
func (p *FileProvider) Daily(ctx context.Context, symbol string) (*Series, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.daily[symbol]; ok {
		return s, nil
	}

	path := filepath.Join(p.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.WrapError(core.ErrSymbolNotFound, err)
		}
		return nil, err
	}
	defer f.Close()

	bars, err := parseBars(f.Name(), symbol, f)
	if err != nil {
		return nil, err
	}

	s := New(symbol, bars)
	deriveIndicators(s.Bars)
	p.daily[symbol] = s
	return s, nil
}

// deriveIndicators backfills the moving averages and the average daily range
// for bars where the file did not carry them, so plain OHLCV files are still
// usable. Fields present in the file always win; bars with too little history
// behind them stay NaN and fail the stages closed.
func deriveIndicators(bars []core.SeriesBar) {
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], highs[i], lows[i] = b.Close, b.High, b.Low
	}

	maShort := indicator.SMA(closes, maShortPeriod)
	maLong := indicator.SMA(closes, maLongPeriod)

	for i := range bars {
		b := &bars[i]
		if !core.IsFinite(b.MAShort) {
			if j := i - maShortPeriod + 1; j >= 0 {
				b.MAShort = maShort[j]
			}
		}
		if !core.IsFinite(b.MALong) {
			if j := i - maLongPeriod + 1; j >= 0 {
				b.MALong = maLong[j]
			}
		}
		if !core.IsFinite(b.AvgDailyRange) {
			b.AvgDailyRange = indicator.AvgRange(highs[:i+1], lows[:i+1], adrPeriod)
		}
	}
}

// Weekly resamples the daily series into weekly bars.
func (p *FileProvider) Weekly(ctx context.Context, symbol string) (*Series, error) {
	p.mu.Lock()
	if s, ok := p.weekly[symbol]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	daily, err := p.Daily(ctx, symbol)
	if err != nil {
		return nil, err
	}

	weekly := Resample(daily)

	p.mu.Lock()
	p.weekly[symbol] = weekly
	p.mu.Unlock()
	return weekly, nil
}

func parseBars(name, symbol string, f *os.File) ([]core.SeriesBar, error) {
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", name, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"time", "open", "high", "low", "close", "volume"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", name, required)
		}
	}

	var bars []core.SeriesBar
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A malformed row must not silently truncate the history.
			return nil, fmt.Errorf("%s:%d: malformed row: %w", name, line, err)
		}

		t, err := time.Parse("2006-01-02", rec[col["time"]])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad time: %w", name, line, err)
		}

		bar := core.NewBar(symbol, t)
		bar.Open = mustField(rec, col, "open")
		bar.High = mustField(rec, col, "high")
		bar.Low = mustField(rec, col, "low")
		bar.Close = mustField(rec, col, "close")
		bar.Volume = int64(mustField(rec, col, "volume"))
		if !bar.HasPrices() {
			return nil, fmt.Errorf("%s:%d: invalid OHLC values", name, line)
		}

		bar.MAShort = optField(rec, col, "ma_short")
		bar.MALong = optField(rec, col, "ma_long")
		bar.RSPercentile = optField(rec, col, "rs_percentile")
		bar.High52 = optField(rec, col, "high_52")
		bar.Low52 = optField(rec, col, "low_52")
		bar.AvgDailyRange = optField(rec, col, "adr")
		bar.MarketCap = optField(rec, col, "market_cap")
		bar.Revenue = optField(rec, col, "revenue")
		bar.RevenueGrowth = optField(rec, col, "revenue_growth")
		bar.EPSGrowth = optField(rec, col, "eps_growth")
		bar.PrevRevenueGrowth = optField(rec, col, "prev_revenue_growth")
		bar.PrevEPSGrowth = optField(rec, col, "prev_eps_growth")

		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s: no rows", name))
	}
	return bars, nil
}

func mustField(rec []string, col map[string]int, name string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[col[name]]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// optField returns NaN for absent columns or blank/unparseable cells, so the
// missing-field fail-closed rule applies downstream.
func optField(rec []string, col map[string]int, name string) float64 {
	i, ok := col[name]
	if !ok || i >= len(rec) {
		return math.NaN()
	}
	cell := strings.TrimSpace(rec[i])
	if cell == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
