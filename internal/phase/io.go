// internal/phase/io.go
package phase

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// SummaryColumns is the header of phase_summary.csv.
var SummaryColumns = []string{"arrival_rate_rps", "mean_quality", "var_quality", "p95_latency"}

// Outputs locates the files written by WriteOutputs.
type Outputs struct {
	PhaseJSON  string
	SummaryCSV string
}

// WriteOutputs writes phase.json and phase_summary.csv into outDir.
func WriteOutputs(outDir string, res PhaseResult, summary []SummaryPoint) (Outputs, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Outputs{}, fmt.Errorf("error creating phase directory: %w", err)
	}
	out := Outputs{
		PhaseJSON:  filepath.Join(outDir, "phase.json"),
		SummaryCSV: filepath.Join(outDir, "phase_summary.csv"),
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return Outputs{}, fmt.Errorf("error encoding phase result: %w", err)
	}
	if err := os.WriteFile(out.PhaseJSON, append(data, '\n'), 0o644); err != nil {
		return Outputs{}, fmt.Errorf("error writing phase result: %w", err)
	}

	file, err := os.Create(out.SummaryCSV)
	if err != nil {
		return Outputs{}, fmt.Errorf("error creating phase summary: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(SummaryColumns); err != nil {
		return Outputs{}, fmt.Errorf("error writing phase summary: %w", err)
	}
	for _, s := range summary {
		p95 := ""
		if s.P95Latency != nil {
			p95 = strconv.FormatFloat(*s.P95Latency, 'g', -1, 64)
		}
		rec := []string{
			strconv.FormatFloat(s.ArrivalRate, 'g', -1, 64),
			strconv.FormatFloat(s.MeanQuality, 'g', -1, 64),
			strconv.FormatFloat(s.VarQuality, 'g', -1, 64),
			p95,
		}
		if err := w.Write(rec); err != nil {
			return Outputs{}, fmt.Errorf("error writing phase summary: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Outputs{}, fmt.Errorf("error writing phase summary: %w", err)
	}
	return out, nil
}

// ReadResult loads a phase.json.
func ReadResult(path string) (PhaseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PhaseResult{}, err
	}
	var res PhaseResult
	if err := json.Unmarshal(data, &res); err != nil {
		return PhaseResult{}, fmt.Errorf("decode phase result %q: %w", path, err)
	}
	return res, nil
}

// DetectRows runs detection over rows and writes the outputs into outDir.
func DetectRows(rows []Row, outDir string, opts Options) (PhaseResult, Outputs, error) {
	res, summary, err := Detect(rows, true, opts)
	if err != nil {
		return PhaseResult{}, Outputs{}, err
	}
	out, err := WriteOutputs(outDir, res, summary)
	if err != nil {
		return PhaseResult{}, Outputs{}, err
	}
	logrus.WithFields(logrus.Fields{
		"breakpoint_rps": fmt.Sprintf("%.3f", res.BreakpointRPS),
		"bic_gain":       fmt.Sprintf("%.3f", res.BICGain),
		"source":         res.QualitySource.String(),
		"bootstrap_ok":   res.BootstrapOK,
	}).Info("phase detection written to ", out.PhaseJSON)
	return res, out, nil
}

// RunDetect loads the metrics files matching pattern, detects the phase
// transition and writes phase.json and phase_summary.csv into outDir.
func RunDetect(pattern, outDir string, opts Options) (PhaseResult, Outputs, error) {
	rows, err := LoadRows(pattern)
	if err != nil {
		return PhaseResult{}, Outputs{}, err
	}
	return DetectRows(rows, outDir, opts)
}
