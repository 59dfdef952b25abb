// internal/metrics/evaluate.go
package metrics

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/mwiater/qosflow/internal/tracesink"
)

// EvalResult locates the files written by Evaluate.
type EvalResult struct {
	Row         MetricsRow
	JSONPath    string
	CSVPath     string
	TracesFound []string
}

// Evaluate reduces every trace matching tracesGlob and writes
// <outputDir>/eval/metrics.json and metrics.csv, plus the per-record task
// and per-prompt stability tables when those blocks exist.
func Evaluate(tracesGlob, outputDir string, refs map[string]string) (EvalResult, error) {
	records, files, err := tracesink.ReadGlob(tracesGlob)
	if err != nil {
		return EvalResult{}, err
	}

	row, tables := Reduce(records, refs)
	row.TraceFiles = len(files)

	evalDir := filepath.Join(outputDir, "eval")
	res := EvalResult{
		Row:         row,
		JSONPath:    filepath.Join(evalDir, "metrics.json"),
		CSVPath:     filepath.Join(evalDir, "metrics.csv"),
		TracesFound: files,
	}
	if err := WriteJSON(res.JSONPath, row); err != nil {
		return EvalResult{}, err
	}
	if err := WriteCSV(res.CSVPath, []MetricsRow{row}); err != nil {
		return EvalResult{}, err
	}
	if len(tables.Task) > 0 {
		if err := WriteTaskRows(filepath.Join(evalDir, "task_rows.csv"), tables.Task); err != nil {
			return EvalResult{}, err
		}
	}
	if len(tables.Stability) > 0 {
		if err := WriteStabilityRows(filepath.Join(evalDir, "stability_by_prompt.csv"), tables.Stability); err != nil {
			return EvalResult{}, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"files":      len(files),
		"rows":       row.TraceRows,
		"p95_ms":     fmt.Sprintf("%.2f", row.LatencyP95),
		"error_rate": fmt.Sprintf("%.3f", row.ErrorRate),
	}).Info("evaluation written to ", res.JSONPath)
	return res, nil
}
