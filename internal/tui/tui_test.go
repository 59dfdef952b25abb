package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/qosflow/internal/loadgen"
	"github.com/mwiater/qosflow/internal/metrics"
	"github.com/mwiater/qosflow/internal/phase"
)

type fakeSource struct {
	snap  loadgen.Snapshot
	calls int
}

func (f *fakeSource) Snapshot() loadgen.Snapshot {
	f.calls++
	return f.snap
}

func TestMonitorPollsSnapshots(t *testing.T) {
	src := &fakeSource{snap: loadgen.Snapshot{RunID: "run-1", State: loadgen.StateWarmup, Planned: 10 * time.Second}}
	m := NewMonitor(src, nil)
	require.NotNil(t, m.Init())

	src.snap = loadgen.Snapshot{
		RunID: "run-1", State: loadgen.StateMeasuring,
		Elapsed: 5 * time.Second, Planned: 10 * time.Second,
		Sent: 12, Success: 11, Failed: 1, Discarded: 3, Inflight: 2,
	}
	next, cmd := m.Update(tickMsg(time.Now()))
	m = next.(*Monitor)
	assert.NotNil(t, cmd, "polling continues while the run is active")

	view := m.View()
	assert.Contains(t, view, "run-1")
	assert.Contains(t, view, "measuring")
	assert.Contains(t, view, "sent 12")
	assert.Contains(t, view, "inflight 2")
	assert.Contains(t, view, "5s / 10s")
	assert.Contains(t, view, "q: stop run")
}

func TestMonitorStopCancelsRun(t *testing.T) {
	src := &fakeSource{snap: loadgen.Snapshot{RunID: "r"}}
	cancelled := 0
	m := NewMonitor(src, func() { cancelled++ })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd, "the monitor waits for the run to drain")
	assert.Equal(t, 1, cancelled)
	assert.Contains(t, m.View(), "draining")

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, cancelled, "cancel is only invoked once")
}

func TestMonitorDoneQuits(t *testing.T) {
	src := &fakeSource{snap: loadgen.Snapshot{RunID: "r", State: loadgen.StateDone}}
	m := NewMonitor(src, nil)

	summary := loadgen.RunSummary{RunID: "r", Sent: 4, Success: 4}
	next, cmd := m.Update(DoneMsg{Summary: summary})
	m = next.(*Monitor)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	got, ok := m.Summary()
	assert.True(t, ok)
	assert.Equal(t, summary, got)
	assert.NoError(t, m.Err())
	assert.Contains(t, m.View(), "run complete")

	_, cmd = m.Update(tickMsg(time.Now()))
	assert.Nil(t, cmd, "no polling after the run returned")

	failed := NewMonitor(src, nil)
	_, _ = failed.Update(DoneMsg{Err: errors.New("disk full")})
	assert.Contains(t, failed.View(), "run failed: disk full")
}

func TestMonitorWindowResize(t *testing.T) {
	m := NewMonitor(&fakeSource{}, nil)
	_, _ = m.Update(tea.WindowSizeMsg{Width: 200, Height: 40})
	assert.Equal(t, maxProgressWidth, m.progress.Width)
	_, _ = m.Update(tea.WindowSizeMsg{Width: 8, Height: 40})
	assert.Equal(t, 10, m.progress.Width)
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary(loadgen.RunSummary{
		RunID: "20260101T000000Z-abc", TracePath: "out/trace.jsonl",
		Sent: 10, Success: 9, Failed: 1, Discarded: 2,
		P50TotalMS: 12.5, P95TotalMS: 40, Interrupted: true,
	})
	assert.Contains(t, out, "Run Summary")
	assert.Contains(t, out, "20260101T000000Z-abc")
	assert.Contains(t, out, "12.50 ms")
	assert.Contains(t, out, "interrupted")
}

func TestRenderMetricsOptionalBlocks(t *testing.T) {
	row := metrics.MetricsRow{Count: 3, LatencyP95: 20}
	out := RenderMetrics(row)
	assert.Contains(t, out, "20.00 ms")
	assert.NotContains(t, out, "task exact match")
	assert.NotContains(t, out, "stability")

	em, f1, rate := 0.5, 0.75, 8.0
	row.TaskExactMatch, row.TaskTokenF1, row.ArrivalRateRPS = &em, &f1, &rate
	out = RenderMetrics(row)
	assert.Contains(t, out, "task exact match")
	assert.Contains(t, out, "0.7500")
	assert.Contains(t, out, "8 rps")
}

func TestRenderPhaseAndSweep(t *testing.T) {
	out := RenderPhase(phase.PhaseResult{BreakpointRPS: 45, CILow: 40, CIHigh: 50, BICGain: 12.3, QualitySource: phase.SourceMeanQuality, BootstrapOK: 200})
	assert.Contains(t, out, "45.000 rps")
	assert.Contains(t, out, "[40.000, 50.000]")
	assert.Contains(t, out, "mean_quality")

	out = RenderPhase(phase.PhaseResult{BreakpointRPS: 45, CILow: 45, CIHigh: 45})
	assert.Contains(t, out, "no bootstrap")

	rate, q := 10.0, 0.9
	out = RenderSweep([]metrics.MetricsRow{{ArrivalRateRPS: &rate, StabilityEditSimilarity: &q, LatencyP95: 5}})
	assert.Contains(t, out, "10 rps")
	assert.Contains(t, out, "quality 0.9000")
}

func TestStatusLine(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	assert.Equal(t, "OK run r: 2 sent, 2 ok, 0 failed", StatusLine(loadgen.RunSummary{RunID: "r", Sent: 2, Success: 2}))
	assert.Equal(t, "DEGRADED run r: 2 sent, 1 ok, 1 failed", StatusLine(loadgen.RunSummary{RunID: "r", Sent: 2, Success: 1, Failed: 1}))
	assert.Equal(t, "FAILED run r: 2 sent, 0 ok, 2 failed", StatusLine(loadgen.RunSummary{RunID: "r", Sent: 2, Failed: 2}))
	assert.Equal(t, "INTERRUPTED run r: 0 sent, 0 ok, 0 failed", StatusLine(loadgen.RunSummary{RunID: "r", Interrupted: true}))
	assert.Equal(t, "WARN phase skipped", Warning("phase %s", "skipped"))
	assert.Equal(t, "OK wrote 3 rows", Success("wrote %d rows", 3))
}
