// internal/metrics/latency.go
// Package metrics reduces trace records into latency, task-correctness and
// output-stability metrics.
package metrics

import (
	"math"
	"sort"

	"github.com/mwiater/qosflow/internal/schema"
)

// Percentile returns the nearest-rank percentile of values, with the rank
// round((n-1)*p) rounded half to even and clamped. Empty input yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	idx := int(math.RoundToEven(float64(len(sorted)-1) * p))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// LatencySummary holds the latency block of a MetricsRow.
type LatencySummary struct {
	Count      int
	P50        float64
	P95        float64
	P99        float64
	Mean       float64
	ErrorRate  float64
	Throughput float64
}

// Latency computes percentiles, error rate and throughput over records.
func Latency(records []schema.TraceRecord) LatencySummary {
	n := len(records)
	if n == 0 {
		return LatencySummary{}
	}
	durations := make([]float64, 0, n)
	var stat RunningStat
	failed := 0
	for _, r := range records {
		durations = append(durations, r.TotalMS)
		stat.Add(r.TotalMS)
		if r.System.Failed() {
			failed++
		}
	}
	sort.Float64s(durations)
	return LatencySummary{
		Count:      n,
		P50:        percentileSorted(durations, 0.50),
		P95:        percentileSorted(durations, 0.95),
		P99:        percentileSorted(durations, 0.99),
		Mean:       stat.Mean,
		ErrorRate:  float64(failed) / float64(n),
		Throughput: Throughput(records),
	}
}

// Throughput is records per second over the span from the earliest start to
// the latest end. It is 0 for fewer than two records or a non-positive span.
func Throughput(records []schema.TraceRecord) float64 {
	if len(records) < 2 {
		return 0
	}
	minStart := records[0].TsStartNS
	maxEnd := records[0].TsEndNS
	for _, r := range records[1:] {
		if r.TsStartNS < minStart {
			minStart = r.TsStartNS
		}
		if r.TsEndNS > maxEnd {
			maxEnd = r.TsEndNS
		}
	}
	span := float64(maxEnd-minStart) / 1e9
	if span <= 0 {
		return 0
	}
	return float64(len(records)) / span
}
