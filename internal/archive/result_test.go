package archive

import (
	"context"
	"encoding/json"
	"path"
	"testing"
	"time"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/portfolio"
	"github.com/quantive/cascade/internal/sim"
)

func sampleResult() *sim.Result {
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	return &sim.Result{
		Mode:  core.ModeRetrospective,
		Start: start,
		End:   start.AddDate(0, 0, 2),
		Trades: []portfolio.Trade{
			{ID: "t1", Ticker: "AAPL", Type: portfolio.TradeEntry, Quantity: 100, Price: 50, Time: start},
		},
		Equity: []portfolio.EquityPoint{
			{Time: start, Equity: 100000, Cash: 95000, OpenPositions: 1},
			{Time: start.AddDate(0, 0, 1), Equity: 100500, Cash: 95000, OpenPositions: 1},
		},
	}
}

func TestWriteRun_RoundTrip(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	id, err := WriteRun(ctx, fs, sampleResult())
	if err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	if id == "" {
		t.Fatal("expected a run ID")
	}

	m, err := ReadManifest(ctx, fs, id)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.ID != id {
		t.Errorf("manifest ID %q, want %q", m.ID, id)
	}
	if m.Trades != 1 || m.Steps != 2 {
		t.Errorf("manifest counts = %d trades / %d steps, want 1/2", m.Trades, m.Steps)
	}

	data, err := fs.Read(ctx, path.Join("runs", id, "trades.json"))
	if err != nil {
		t.Fatalf("reading trades artifact: %v", err)
	}
	var trades []portfolio.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		t.Fatalf("decoding trades artifact: %v", err)
	}
	if len(trades) != 1 || trades[0].Ticker != "AAPL" {
		t.Errorf("unexpected trades artifact: %+v", trades)
	}

	// Without a summary the artifact is simply absent.
	exists, _ := fs.Exists(ctx, path.Join("runs", id, "summary.json"))
	if exists {
		t.Error("summary artifact should not exist for a nil summary")
	}
}

func TestListRuns(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	ids, err := ListRuns(ctx, fs)
	if err != nil {
		t.Fatalf("ListRuns on empty storage: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no runs, got %v", ids)
	}

	first, _ := WriteRun(ctx, fs, sampleResult())
	second, _ := WriteRun(ctx, fs, sampleResult())

	ids, err = ListRuns(ctx, fs)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 runs, got %v", ids)
	}
	found := map[string]bool{ids[0]: true, ids[1]: true}
	if !found[first] || !found[second] {
		t.Errorf("run IDs %v missing %q or %q", ids, first, second)
	}
}
