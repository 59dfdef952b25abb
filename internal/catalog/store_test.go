package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/qosflow/internal/metrics"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordRunUpserts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	entry := RunEntry{RunID: "r1", Experiment: "exp", ArrivalRate: 4, TracePath: "t.jsonl", Sent: 10, Success: 9, Failed: 1, P50TotalMS: 12, P95TotalMS: 40}
	require.NoError(t, s.RecordRun(ctx, entry))
	entry.Sent = 11
	entry.Success = 10
	require.NoError(t, s.RecordRun(ctx, entry))
	require.NoError(t, s.RecordRun(ctx, RunEntry{RunID: "r0", Experiment: "exp", ArrivalRate: 2}))
	require.NoError(t, s.RecordRun(ctx, RunEntry{RunID: "other", Experiment: "else", ArrivalRate: 1}))

	runs, err := s.Runs(ctx, "exp")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r0", runs[0].RunID)
	assert.Equal(t, 11, runs[1].Sent)
	assert.Equal(t, 10, runs[1].Success)

	assert.Error(t, s.RecordRun(ctx, RunEntry{}))
}

func TestMetricsTableOrderedByRate(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for _, rate := range []float64{40, 10, 20} {
		row := metrics.MetricsRow{Count: int(rate), LatencyP95: rate * 2}.WithArrivalRate(rate)
		require.NoError(t, s.RecordMetrics(ctx, "exp", "sweep", row))
	}
	replaced := metrics.MetricsRow{Count: 99}.WithArrivalRate(20)
	require.NoError(t, s.RecordMetrics(ctx, "exp", "sweep", replaced))

	table, err := s.MetricsTable(ctx, "exp")
	require.NoError(t, err)
	require.Len(t, table, 3)
	assert.Equal(t, 10.0, *table[0].ArrivalRateRPS)
	assert.Equal(t, 99, table[1].Count)
	assert.Equal(t, 80.0, *table[2].P95Latency)

	all, err := s.MetricsTable(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.Error(t, s.RecordMetrics(ctx, "exp", "sweep", metrics.MetricsRow{}))
}
