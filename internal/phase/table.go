// internal/phase/table.go
package phase

import (
	"fmt"
	"math"
	"sort"

	"github.com/mwiater/qosflow/internal/metrics"
)

// QualitySource names the column used as the quality signal.
type QualitySource int

const (
	SourceNone QualitySource = iota
	SourceMeanQuality
	SourceTaskExactMatch
	SourceStabilityEditSimilarity
)

func (q QualitySource) String() string {
	switch q {
	case SourceMeanQuality:
		return "mean_quality"
	case SourceTaskExactMatch:
		return "task_exact_match"
	case SourceStabilityEditSimilarity:
		return "stability_edit_similarity"
	default:
		return "none"
	}
}

// MarshalText encodes the column name.
func (q QualitySource) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText decodes a column name.
func (q *QualitySource) UnmarshalText(b []byte) error {
	switch string(b) {
	case "mean_quality":
		*q = SourceMeanQuality
	case "task_exact_match":
		*q = SourceTaskExactMatch
	case "stability_edit_similarity":
		*q = SourceStabilityEditSimilarity
	case "none", "":
		*q = SourceNone
	default:
		return fmt.Errorf("unknown quality source %q", b)
	}
	return nil
}

// Row is one metrics table row as seen by the detector. Nil means absent.
type Row struct {
	Source                  string
	ArrivalRate             *float64
	MeanQuality             *float64
	TaskExactMatch          *float64
	StabilityEditSimilarity *float64
	VarQuality              *float64
	TaskExactMatchVar       *float64
	StabilityEditSimVar     *float64
	P95Latency              *float64
}

// RowFromMetrics converts a reduced metrics row.
func RowFromMetrics(m metrics.MetricsRow, source string) Row {
	r := Row{
		Source:                  source,
		ArrivalRate:             m.ArrivalRateRPS,
		MeanQuality:             m.MeanQuality,
		TaskExactMatch:          m.TaskExactMatch,
		StabilityEditSimilarity: m.StabilityEditSimilarity,
		VarQuality:              m.VarQuality,
		TaskExactMatchVar:       m.TaskExactMatchVar,
		StabilityEditSimVar:     m.StabilityEditSimilarityVar,
		P95Latency:              m.P95Latency,
	}
	if r.P95Latency == nil {
		p95 := m.LatencyP95
		r.P95Latency = &p95
	}
	return r
}

// ResolveQualitySource picks the first quality column, in priority order,
// that holds a value in any row.
func ResolveQualitySource(rows []Row) (QualitySource, error) {
	has := func(get func(Row) *float64) bool {
		for _, r := range rows {
			if usable(get(r)) {
				return true
			}
		}
		return false
	}
	switch {
	case has(func(r Row) *float64 { return r.MeanQuality }):
		return SourceMeanQuality, nil
	case has(func(r Row) *float64 { return r.TaskExactMatch }):
		return SourceTaskExactMatch, nil
	case has(func(r Row) *float64 { return r.StabilityEditSimilarity }):
		return SourceStabilityEditSimilarity, nil
	}
	return SourceNone, ErrNoQualitySignal
}

// quality returns the row's value for source and its variance when known.
func (r Row) quality(source QualitySource) (q *float64, variance *float64) {
	switch source {
	case SourceMeanQuality:
		return r.MeanQuality, r.VarQuality
	case SourceTaskExactMatch:
		return r.TaskExactMatch, firstNonNil(r.VarQuality, r.TaskExactMatchVar)
	case SourceStabilityEditSimilarity:
		return r.StabilityEditSimilarity, firstNonNil(r.VarQuality, r.StabilityEditSimVar)
	}
	return nil, nil
}

// SummaryPoint is one row of phase_summary.csv.
type SummaryPoint struct {
	ArrivalRate float64  `json:"arrival_rate_rps"`
	MeanQuality float64  `json:"mean_quality"`
	VarQuality  float64  `json:"var_quality"`
	P95Latency  *float64 `json:"p95_latency"`
}

// Summarize resolves the quality source and returns the usable rows sorted
// by rate. Rows without a rate or quality value are dropped; when
// requireLatency is set so are rows without a p95 latency.
func Summarize(rows []Row, requireLatency bool) ([]SummaryPoint, QualitySource, error) {
	source, err := ResolveQualitySource(rows)
	if err != nil {
		return nil, SourceNone, err
	}
	var out []SummaryPoint
	for _, r := range rows {
		q, variance := r.quality(source)
		if !usable(r.ArrivalRate) || !usable(q) {
			continue
		}
		if requireLatency && !usable(r.P95Latency) {
			continue
		}
		sp := SummaryPoint{ArrivalRate: *r.ArrivalRate, MeanQuality: *q, P95Latency: r.P95Latency}
		if usable(variance) {
			sp.VarQuality = *variance
		}
		out = append(out, sp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ArrivalRate < out[j].ArrivalRate })
	return out, source, nil
}

// Points extracts detector input from summary points.
func Points(summary []SummaryPoint) []Point {
	out := make([]Point, len(summary))
	for i, s := range summary {
		out[i] = Point{Rate: s.ArrivalRate, Quality: s.MeanQuality}
	}
	return out
}

// Detect summarizes rows and runs DetectPhaseTransition on them.
func Detect(rows []Row, requireLatency bool, opts Options) (PhaseResult, []SummaryPoint, error) {
	summary, source, err := Summarize(rows, requireLatency)
	if err != nil {
		return PhaseResult{}, nil, err
	}
	res, err := DetectPhaseTransition(Points(summary), opts)
	if err != nil {
		return PhaseResult{}, summary, err
	}
	res.QualitySource = source
	return res, summary, nil
}

func usable(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
