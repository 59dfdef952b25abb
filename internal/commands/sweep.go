// internal/commands/sweep.go
package qosflow

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mwiater/qosflow/internal/catalog"
	"github.com/mwiater/qosflow/internal/loadgen"
	"github.com/mwiater/qosflow/internal/phase"
	"github.com/mwiater/qosflow/internal/schema"
	"github.com/mwiater/qosflow/internal/sweep"
	"github.com/mwiater/qosflow/internal/tui"
)

var (
	sweepRates       []float64
	sweepOutputDir   string
	sweepResume      bool
	sweepEvalOnly    bool
	sweepCatalog     string
	sweepPhase       bool
	sweepParallelism int
	sweepBootstrap   int
)

// sweepCmd runs load + evaluation at each arrival rate and summarizes them.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run load and evaluation across a list of arrival rates",
	Long: `For every rate in --rates, run a load test into <output-dir>/lambda=<rate>/, evaluate
its traces and collect the metrics into <output-dir>/summary.csv sorted by rate.
--resume skips rates that already have eval/metrics.json; --eval-only re-evaluates
existing traces without sending load; --phase runs breakpoint detection on the result.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadExperiment()
		if err != nil {
			return err
		}

		// Eval-only sweeps only need prompts for reference answers.
		var prompts []schema.PromptInput
		if _, statErr := os.Stat(cfg.LoadGen.PromptSource); statErr != nil && sweepEvalOnly {
			logrus.Warnf("prompt source %q not readable, evaluating without reference answers", cfg.LoadGen.PromptSource)
		} else {
			prompts, err = loadgen.LoadPrompts(cfg.LoadGen.PromptSource, cfg.LoadGen.Thresholds())
			if err != nil {
				return err
			}
		}

		m, err := startMetrics(cmd.Context())
		if err != nil {
			return err
		}
		opts := sweep.Options{
			Rates:        sweepRates,
			OutputDir:    sweepOutputDir,
			Resume:       sweepResume,
			EvalOnly:     sweepEvalOnly,
			Refs:         loadgen.ReferenceAnswers(prompts),
			LoadOptions:  loadgen.Options{Metrics: m},
			DetectPhase:  sweepPhase,
			Parallelism:  sweepParallelism,
			PhaseOptions: phase.Options{BootstrapSamples: sweepBootstrap},
		}
		if sweepCatalog != "" {
			store, err := catalog.Open(cmd.Context(), sweepCatalog)
			if err != nil {
				return err
			}
			defer store.Close()
			opts.Catalog = store
		}

		res, err := sweep.Run(cmd.Context(), cfg, prompts, opts)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, tui.RenderSweep(res.Rows))
		if res.Phase != nil {
			fmt.Fprintln(w, tui.RenderPhase(*res.Phase))
		}
		if res.PhaseErr != nil {
			fmt.Fprintln(w, tui.Warning("phase detection skipped: %v", res.PhaseErr))
		}
		fmt.Fprintln(w, tui.Success("summary written to %s", res.SummaryPath))
		return nil
	},
}

func init() {
	sweepCmd.Flags().Float64SliceVar(&sweepRates, "rates", nil, "comma-separated arrival rates in rps (required)")
	sweepCmd.Flags().StringVar(&sweepOutputDir, "output-dir", "", "sweep root (defaults to experiment.output_dir)")
	sweepCmd.Flags().BoolVar(&sweepResume, "resume", false, "reuse rates that already have eval/metrics.json")
	sweepCmd.Flags().BoolVar(&sweepEvalOnly, "eval-only", false, "re-evaluate existing traces without sending load")
	sweepCmd.Flags().StringVar(&sweepCatalog, "catalog", "", "record runs and metrics into this SQLite catalog")
	sweepCmd.Flags().BoolVar(&sweepPhase, "phase", false, "run phase detection over the sweep")
	sweepCmd.Flags().IntVar(&sweepParallelism, "parallel", 4, "concurrent evaluations with --eval-only")
	sweepCmd.Flags().IntVar(&sweepBootstrap, "bootstrap-samples", 0, "bootstrap resamples for --phase (0 uses the default)")
	_ = sweepCmd.MarkFlagRequired("rates")

	rootCmd.AddCommand(sweepCmd)
}
