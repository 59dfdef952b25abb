// internal/metrics/io.go
package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// CSVColumns is the column order of metrics.csv and sweep summaries.
var CSVColumns = []string{
	"arrival_rate_rps",
	"trace_files", "trace_rows", "count",
	"latency_ms_p50", "latency_ms_p95", "latency_ms_p99", "latency_ms_mean",
	"p95_latency", "error_rate", "throughput_rps",
	"task_count", "task_exact_match", "task_exact_match_var", "task_token_f1",
	"stability_prompt_groups", "stability_exact_match_rate",
	"stability_edit_similarity", "stability_edit_similarity_var",
	"mean_quality", "var_quality",
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// CSVRecord renders m in CSVColumns order; absent values are empty cells.
func (m MetricsRow) CSVRecord() []string {
	return []string{
		optFloat(m.ArrivalRateRPS),
		strconv.Itoa(m.TraceFiles), strconv.Itoa(m.TraceRows), strconv.Itoa(m.Count),
		formatFloat(m.LatencyP50), formatFloat(m.LatencyP95), formatFloat(m.LatencyP99), formatFloat(m.LatencyMean),
		optFloat(m.P95Latency), formatFloat(m.ErrorRate), formatFloat(m.ThroughputRPS),
		optInt(m.TaskCount), optFloat(m.TaskExactMatch), optFloat(m.TaskExactMatchVar), optFloat(m.TaskTokenF1),
		optInt(m.StabilityPromptGroups), optFloat(m.StabilityExactMatchRate),
		optFloat(m.StabilityEditSimilarity), optFloat(m.StabilityEditSimilarityVar),
		optFloat(m.MeanQuality), optFloat(m.VarQuality),
	}
}

// WriteJSON writes m as indented JSON, creating parent directories.
func WriteJSON(path string, m MetricsRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating metrics directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating metrics file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("error writing metrics: %w", err)
	}
	return nil
}

// ReadJSON loads a MetricsRow written by WriteJSON.
func ReadJSON(path string) (MetricsRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MetricsRow{}, fmt.Errorf("read metrics %q: %w", path, err)
	}
	var m MetricsRow
	if err := json.Unmarshal(data, &m); err != nil {
		return MetricsRow{}, fmt.Errorf("decode metrics %q: %w", path, err)
	}
	return m, nil
}

// WriteCSV writes rows under the CSVColumns header.
func WriteCSV(path string, rows []MetricsRow) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.CSVRecord())
	}
	return writeCSV(path, CSVColumns, records)
}

// WriteTaskRows writes the per-record task scores.
func WriteTaskRows(path string, rows []TaskRow) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{r.PromptID, strconv.Itoa(r.RepeatIdx), formatFloat(r.ExactMatch), formatFloat(r.TokenF1)})
	}
	return writeCSV(path, []string{"prompt_id", "repeat_idx", "exact_match", "token_f1"}, records)
}

// WriteStabilityRows writes the per-prompt stability table.
func WriteStabilityRows(path string, rows []StabilityRow) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{r.PromptID, strconv.Itoa(r.Outputs), formatFloat(r.ExactMatchRate), formatFloat(r.EditSimilarity)})
	}
	return writeCSV(path, []string{"prompt_id", "outputs", "exact_match_rate", "edit_similarity"}, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating csv directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating csv file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("error writing csv header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("error writing csv rows: %w", err)
	}
	return nil
}
