package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/sim"
)

// runsPrefix is where run artifacts live inside the backend.
const runsPrefix = "runs"

// Manifest describes one archived run.
type Manifest struct {
	ID         string    `json:"id"`
	Mode       core.Mode `json:"mode"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ArchivedAt time.Time `json:"archived_at"`
	Trades     int       `json:"trades"`
	Steps      int       `json:"steps"`
}

// WriteRun persists a run's artifacts under a fresh run ID and returns it.
// Each artifact is its own object so downstream tooling can fetch the trade
// log without the (much larger) equity curve.
func WriteRun(ctx context.Context, st Storage, res *sim.Result) (string, error) {
	id := uuid.NewString()

	manifest := Manifest{
		ID:         id,
		Mode:       res.Mode,
		Start:      res.Start,
		End:        res.End,
		ArchivedAt: time.Now().UTC(),
		Trades:     len(res.Trades),
		Steps:      len(res.Equity),
	}

	artifacts := map[string]any{
		"manifest.json": manifest,
		"trades.json":   res.Trades,
		"equity.json":   res.Equity,
	}
	if res.Summary != nil {
		artifacts["summary.json"] = res.Summary
	}

	for name, v := range artifacts {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", core.WrapError(core.ErrArchiveFailed,
				fmt.Errorf("encoding %s: %w", name, err))
		}
		if err := st.Write(ctx, path.Join(runsPrefix, id, name), data); err != nil {
			return "", err
		}
	}

	return id, nil
}

// ReadManifest loads the manifest of an archived run.
func ReadManifest(ctx context.Context, st Storage, id string) (*Manifest, error) {
	data, err := st.Read(ctx, path.Join(runsPrefix, id, "manifest.json"))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, core.WrapError(core.ErrArchiveFailed,
			fmt.Errorf("decoding manifest for %s: %w", id, err))
	}
	return &m, nil
}

// ListRuns returns the archived run IDs, sorted.
func ListRuns(ctx context.Context, st Storage) ([]string, error) {
	keys, err := st.List(ctx, runsPrefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		rest := strings.TrimPrefix(key, runsPrefix+"/")
		if id, _, ok := strings.Cut(rest, "/"); ok {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
