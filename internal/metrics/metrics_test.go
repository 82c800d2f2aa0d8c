package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)

	r.RecordStage("D", true)
	r.RecordStage("D", false)
	r.RecordStage("D", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageEvaluations.WithLabelValues("D", "pass")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.stageEvaluations.WithLabelValues("D", "fail")))
}

func TestRegistry_Recorders(t *testing.T) {
	r := NewRegistry()

	r.RecordSkip()
	r.RecordTrade("entry")
	r.RecordTrade("entry")
	r.RecordStep(0.01)
	r.RecordCandidates(3)
	r.SetPortfolio(100500, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.symbolsSkipped))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.tradesTotal.WithLabelValues("entry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepsTotal))
	assert.Equal(t, 100500.0, testutil.ToFloat64(r.equity))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.openCount))
}

func TestNilRegistry_IsSafe(t *testing.T) {
	var r *Registry
	r.RecordStage("E", true)
	r.RecordSkip()
	r.RecordCandidates(1)
	r.RecordStep(0.5)
	r.RecordTrade("exit")
	r.SetPortfolio(0, 0)
}
