// internal/commands/phase.go
package qosflow

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/qosflow/internal/catalog"
	"github.com/mwiater/qosflow/internal/phase"
	"github.com/mwiater/qosflow/internal/tui"
)

var (
	phaseInputGlob  string
	phaseOutputDir  string
	phaseCatalog    string
	phaseExperiment string
	phaseOpts       phase.Options
)

// phaseCmd locates the quality breakpoint over a table of per-rate metrics.
var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Detect the arrival rate at which quality changes regime",
	Long: `Build a per-rate quality table from metrics files matching --input-glob (.json or .csv),
or from a run catalog with --catalog, fit the best single-breakpoint piecewise linear model,
and write phase.json and phase_summary.csv into --output-dir.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			res phase.PhaseResult
			out phase.Outputs
			err error
		)
		switch {
		case phaseCatalog != "":
			res, out, err = detectFromCatalog(cmd, phaseCatalog, phaseExperiment)
		case phaseInputGlob != "":
			res, out, err = phase.RunDetect(phaseInputGlob, phaseOutputDir, phaseOpts)
		default:
			return errors.New("one of --input-glob or --catalog is required")
		}
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, tui.RenderPhase(res))
		fmt.Fprintln(w, tui.Success("phase result written to %s", out.PhaseJSON))
		return nil
	},
}

func detectFromCatalog(cmd *cobra.Command, path, experiment string) (phase.PhaseResult, phase.Outputs, error) {
	store, err := catalog.Open(cmd.Context(), path)
	if err != nil {
		return phase.PhaseResult{}, phase.Outputs{}, err
	}
	defer store.Close()

	table, err := store.MetricsTable(cmd.Context(), experiment)
	if err != nil {
		return phase.PhaseResult{}, phase.Outputs{}, err
	}
	rows := make([]phase.Row, len(table))
	for i, m := range table {
		rows[i] = phase.RowFromMetrics(m, path)
	}
	return phase.DetectRows(rows, phaseOutputDir, phaseOpts)
}

func init() {
	phaseCmd.Flags().StringVar(&phaseInputGlob, "input-glob", "", "glob of metrics.json / metrics.csv files")
	phaseCmd.Flags().StringVar(&phaseOutputDir, "output-dir", "phase", "directory for phase.json and phase_summary.csv")
	phaseCmd.Flags().StringVar(&phaseCatalog, "catalog", "", "read the metrics table from this SQLite run catalog")
	phaseCmd.Flags().StringVar(&phaseExperiment, "experiment", "", "restrict --catalog rows to one experiment")
	phaseCmd.Flags().IntVar(&phaseOpts.BootstrapSamples, "bootstrap-samples", phase.DefaultBootstrapSamples, "bootstrap resamples for the interval (negative disables)")
	phaseCmd.Flags().IntVar(&phaseOpts.MinSegmentSize, "min-segment", phase.DefaultMinSegmentSize, "smallest number of points on either side of the breakpoint")
	phaseCmd.Flags().Int64Var(&phaseOpts.Seed, "seed", 0, "bootstrap seed")

	rootCmd.AddCommand(phaseCmd)
}
