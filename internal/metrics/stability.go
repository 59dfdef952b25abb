// internal/metrics/stability.go
package metrics

import (
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/mwiater/qosflow/internal/schema"
)

// EditSimilarity is 1 - Levenshtein(a, b)/max(len a, len b) over characters.
// Two empty strings are identical.
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	denom := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > denom {
		denom = n
	}
	if denom == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(denom)
}

// StabilityRow is the per-prompt stability of repeated outputs.
type StabilityRow struct {
	PromptID       string  `json:"prompt_id"`
	Outputs        int     `json:"outputs"`
	ExactMatchRate float64 `json:"exact_match_rate"`
	EditSimilarity float64 `json:"edit_similarity"`
}

// StabilitySummary averages StabilityRows across prompts.
type StabilitySummary struct {
	PromptGroups      int
	ExactMatchRate    float64
	EditSimilarity    float64
	EditSimilarityVar float64
	Rows              []StabilityRow
}

// groupExactMatchRate is the share of outputs identical to the first one.
func groupExactMatchRate(outputs []string) float64 {
	if len(outputs) == 0 {
		return 0
	}
	matches := 0
	for _, o := range outputs {
		if o == outputs[0] {
			matches++
		}
	}
	return float64(matches) / float64(len(outputs))
}

// groupEditSimilarity is the mean similarity over all unordered pairs.
func groupEditSimilarity(outputs []string) float64 {
	if len(outputs) < 2 {
		return 1
	}
	total := 0.0
	pairs := 0
	for i := 0; i < len(outputs); i++ {
		for j := i + 1; j < len(outputs); j++ {
			total += EditSimilarity(outputs[i], outputs[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// Stability groups records by prompt id, in record order within each group.
// ok is false unless at least one prompt was issued more than once.
func Stability(records []schema.TraceRecord) (StabilitySummary, bool) {
	groups := make(map[string][]string)
	var order []string
	repeated := false
	for _, r := range records {
		if _, seen := groups[r.PromptID]; !seen {
			order = append(order, r.PromptID)
		}
		groups[r.PromptID] = append(groups[r.PromptID], r.OutputText)
		if len(groups[r.PromptID]) > 1 {
			repeated = true
		}
	}
	if !repeated {
		return StabilitySummary{}, false
	}
	sort.Strings(order)

	var (
		summary StabilitySummary
		exact   RunningStat
		sim     RunningStat
	)
	for _, id := range order {
		outputs := groups[id]
		row := StabilityRow{
			PromptID:       id,
			Outputs:        len(outputs),
			ExactMatchRate: groupExactMatchRate(outputs),
			EditSimilarity: groupEditSimilarity(outputs),
		}
		exact.Add(row.ExactMatchRate)
		sim.Add(row.EditSimilarity)
		summary.Rows = append(summary.Rows, row)
	}
	summary.PromptGroups = len(summary.Rows)
	summary.ExactMatchRate = exact.Mean
	summary.EditSimilarity = sim.Mean
	summary.EditSimilarityVar = sim.Variance()
	return summary, true
}
