// internal/metrics/task.go
package metrics

import (
	"strings"

	"github.com/mwiater/qosflow/internal/schema"
)

// NormalizeAnswer trims and folds internal whitespace runs to single spaces.
func NormalizeAnswer(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ExactMatch compares normalized prediction and reference.
func ExactMatch(pred, ref string) bool {
	return NormalizeAnswer(pred) == NormalizeAnswer(ref)
}

// TokenF1 is the harmonic mean of token precision and recall over token
// multisets. Two empty inputs score 1, one empty input scores 0.
func TokenF1(pred, ref string) float64 {
	predTokens := strings.Fields(pred)
	refTokens := strings.Fields(ref)
	if len(predTokens) == 0 && len(refTokens) == 0 {
		return 1
	}
	if len(predTokens) == 0 || len(refTokens) == 0 {
		return 0
	}

	refCounts := make(map[string]int, len(refTokens))
	for _, tok := range refTokens {
		refCounts[tok]++
	}
	overlap := 0
	for _, tok := range predTokens {
		if refCounts[tok] > 0 {
			refCounts[tok]--
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	precision := float64(overlap) / float64(len(predTokens))
	recall := float64(overlap) / float64(len(refTokens))
	return 2 * precision * recall / (precision + recall)
}

// TaskRow is the per-record task score.
type TaskRow struct {
	PromptID   string  `json:"prompt_id"`
	RepeatIdx  int     `json:"repeat_idx"`
	ExactMatch float64 `json:"exact_match"`
	TokenF1    float64 `json:"token_f1"`
}

// TaskSummary aggregates TaskRows.
type TaskSummary struct {
	Count         int
	ExactMatch    float64
	ExactMatchVar float64
	TokenF1       float64
	Rows          []TaskRow
}

// Task scores every record whose prompt has a reference answer in refs.
// ok is false when no record has a reference.
func Task(records []schema.TraceRecord, refs map[string]string) (TaskSummary, bool) {
	var (
		summary TaskSummary
		em      RunningStat
		f1      RunningStat
	)
	for _, r := range records {
		ref, has := refs[r.PromptID]
		if !has {
			continue
		}
		pred := NormalizeAnswer(r.OutputText)
		want := NormalizeAnswer(ref)
		row := TaskRow{PromptID: r.PromptID, RepeatIdx: r.RepeatIdx, TokenF1: TokenF1(pred, want)}
		if pred == want {
			row.ExactMatch = 1
		}
		em.Add(row.ExactMatch)
		f1.Add(row.TokenF1)
		summary.Rows = append(summary.Rows, row)
	}
	if len(summary.Rows) == 0 {
		return TaskSummary{}, false
	}
	summary.Count = len(summary.Rows)
	summary.ExactMatch = em.Mean
	summary.ExactMatchVar = em.Variance()
	summary.TokenF1 = f1.Mean
	return summary, true
}
