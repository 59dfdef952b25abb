// internal/tui/render.go
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/qosflow/internal/loadgen"
	"github.com/mwiater/qosflow/internal/metrics"
	"github.com/mwiater/qosflow/internal/phase"
	"github.com/mwiater/qosflow/internal/util"
)

const maxPathWidth = 72

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

func stateStyle(s loadgen.State) lipgloss.Style {
	switch s {
	case loadgen.StateWarmup:
		return warnStyle
	case loadgen.StateMeasuring:
		return okStyle
	case loadgen.StateDraining:
		return warnStyle
	default:
		return labelStyle
	}
}

type field struct {
	label string
	value string
}

// renderBlock lays out label/value pairs in aligned columns inside a box.
func renderBlock(title string, fields []field) string {
	width := 0
	for _, f := range fields {
		if len(f.label) > width {
			width = len(f.label)
		}
	}
	lines := []string{titleStyle.Render(title)}
	for _, f := range fields {
		label := labelStyle.Render(f.label + strings.Repeat(" ", width-len(f.label)))
		lines = append(lines, label+"  "+valueStyle.Render(f.value))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func ms(v float64) string { return fmt.Sprintf("%.2f ms", v) }

func optRatio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}

// RenderSummary renders a finished run.
func RenderSummary(s loadgen.RunSummary) string {
	fields := []field{
		{"run id", s.RunID},
		{"trace", util.TruncateMiddle(s.TracePath, maxPathWidth)},
		{"sent", fmt.Sprint(s.Sent)},
		{"success", fmt.Sprint(s.Success)},
		{"failed", fmt.Sprint(s.Failed)},
		{"warmup discarded", fmt.Sprint(s.Discarded)},
		{"p50 total", ms(s.P50TotalMS)},
		{"p95 total", ms(s.P95TotalMS)},
	}
	if s.ManifestPath != "" {
		fields = append(fields, field{"manifest", util.TruncateMiddle(s.ManifestPath, maxPathWidth)})
	}
	if s.Interrupted {
		fields = append(fields, field{"interrupted", "yes"})
	}
	return renderBlock("Run Summary", fields)
}

// RenderMetrics renders one evaluation row. Task and stability lines only
// appear when those blocks were computed.
func RenderMetrics(m metrics.MetricsRow) string {
	fields := []field{}
	if m.ArrivalRateRPS != nil {
		fields = append(fields, field{"arrival rate", fmt.Sprintf("%g rps", *m.ArrivalRateRPS)})
	}
	fields = append(fields,
		field{"trace files", fmt.Sprint(m.TraceFiles)},
		field{"records", fmt.Sprint(m.Count)},
		field{"latency p50", ms(m.LatencyP50)},
		field{"latency p95", ms(m.LatencyP95)},
		field{"latency p99", ms(m.LatencyP99)},
		field{"latency mean", ms(m.LatencyMean)},
		field{"error rate", fmt.Sprintf("%.4f", m.ErrorRate)},
		field{"throughput", fmt.Sprintf("%.3f rps", m.ThroughputRPS)},
	)
	if m.TaskExactMatch != nil {
		fields = append(fields,
			field{"task exact match", optRatio(m.TaskExactMatch)},
			field{"task token f1", optRatio(m.TaskTokenF1)},
		)
	}
	if m.StabilityEditSimilarity != nil {
		fields = append(fields,
			field{"stability exact", optRatio(m.StabilityExactMatchRate)},
			field{"stability edit sim", optRatio(m.StabilityEditSimilarity)},
		)
	}
	return renderBlock("Metrics", fields)
}

// RenderPhase renders a phase detection result.
func RenderPhase(r phase.PhaseResult) string {
	ci := fmt.Sprintf("[%.3f, %.3f]", r.CILow, r.CIHigh)
	if r.BootstrapOK == 0 {
		ci += " (no bootstrap)"
	}
	return renderBlock("Phase Transition", []field{
		{"breakpoint", fmt.Sprintf("%.3f rps", r.BreakpointRPS)},
		{"95% interval", ci},
		{"bic gain", fmt.Sprintf("%.3f", r.BICGain)},
		{"quality source", r.QualitySource.String()},
		{"bootstrap ok", fmt.Sprint(r.BootstrapOK)},
	})
}

// RenderSweep renders one line per rate of a sweep summary.
func RenderSweep(rows []metrics.MetricsRow) string {
	fields := make([]field, 0, len(rows))
	for _, r := range rows {
		rate := "?"
		if r.ArrivalRateRPS != nil {
			rate = fmt.Sprintf("%g rps", *r.ArrivalRateRPS)
		}
		quality := "n/a"
		if q := firstQuality(r); q != nil {
			quality = fmt.Sprintf("%.4f", *q)
		}
		fields = append(fields, field{rate, fmt.Sprintf("p95 %s  err %.4f  quality %s", ms(r.LatencyP95), r.ErrorRate, quality)})
	}
	return renderBlock("Sweep", fields)
}

func firstQuality(r metrics.MetricsRow) *float64 {
	for _, q := range []*float64{r.MeanQuality, r.TaskExactMatch, r.StabilityEditSimilarity} {
		if q != nil {
			return q
		}
	}
	return nil
}
