// internal/metrics/reduce.go
package metrics

import (
	"github.com/mwiater/qosflow/internal/schema"
)

// MetricsRow is the reduced view of one run. Optional blocks are nil when
// the data to compute them is absent.
type MetricsRow struct {
	TraceFiles int `json:"trace_files"`
	TraceRows  int `json:"trace_rows"`

	Count         int     `json:"count"`
	LatencyP50    float64 `json:"latency_ms_p50"`
	LatencyP95    float64 `json:"latency_ms_p95"`
	LatencyP99    float64 `json:"latency_ms_p99"`
	LatencyMean   float64 `json:"latency_ms_mean"`
	ErrorRate     float64 `json:"error_rate"`
	ThroughputRPS float64 `json:"throughput_rps"`

	TaskCount         *int     `json:"task_count,omitempty"`
	TaskExactMatch    *float64 `json:"task_exact_match,omitempty"`
	TaskExactMatchVar *float64 `json:"task_exact_match_var,omitempty"`
	TaskTokenF1       *float64 `json:"task_token_f1,omitempty"`

	StabilityPromptGroups      *int     `json:"stability_prompt_groups,omitempty"`
	StabilityExactMatchRate    *float64 `json:"stability_exact_match_rate,omitempty"`
	StabilityEditSimilarity    *float64 `json:"stability_edit_similarity,omitempty"`
	StabilityEditSimilarityVar *float64 `json:"stability_edit_similarity_var,omitempty"`

	// Sweep and externally supplied columns.
	ArrivalRateRPS *float64 `json:"arrival_rate_rps,omitempty"`
	P95Latency     *float64 `json:"p95_latency,omitempty"`
	MeanQuality    *float64 `json:"mean_quality,omitempty"`
	VarQuality     *float64 `json:"var_quality,omitempty"`
}

// Tables are the per-record and per-prompt breakdowns behind a MetricsRow.
type Tables struct {
	Task      []TaskRow
	Stability []StabilityRow
}

// Reduce aggregates records into a MetricsRow. refs maps prompt ids to
// reference answers and may be nil.
func Reduce(records []schema.TraceRecord, refs map[string]string) (MetricsRow, Tables) {
	lat := Latency(records)
	row := MetricsRow{
		TraceRows:     len(records),
		Count:         lat.Count,
		LatencyP50:    lat.P50,
		LatencyP95:    lat.P95,
		LatencyP99:    lat.P99,
		LatencyMean:   lat.Mean,
		ErrorRate:     lat.ErrorRate,
		ThroughputRPS: lat.Throughput,
	}
	var tables Tables

	if task, ok := Task(records, refs); ok {
		row.TaskCount = intPtr(task.Count)
		row.TaskExactMatch = floatPtr(task.ExactMatch)
		row.TaskExactMatchVar = floatPtr(task.ExactMatchVar)
		row.TaskTokenF1 = floatPtr(task.TokenF1)
		tables.Task = task.Rows
	}
	if stab, ok := Stability(records); ok {
		row.StabilityPromptGroups = intPtr(stab.PromptGroups)
		row.StabilityExactMatchRate = floatPtr(stab.ExactMatchRate)
		row.StabilityEditSimilarity = floatPtr(stab.EditSimilarity)
		row.StabilityEditSimilarityVar = floatPtr(stab.EditSimilarityVar)
		tables.Stability = stab.Rows
	}
	return row, tables
}

// WithArrivalRate returns a copy tagged with the offered rate and with
// p95_latency filled from latency_ms_p95 when absent.
func (m MetricsRow) WithArrivalRate(rate float64) MetricsRow {
	m.ArrivalRateRPS = floatPtr(rate)
	if m.P95Latency == nil {
		m.P95Latency = floatPtr(m.LatencyP95)
	}
	return m
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
