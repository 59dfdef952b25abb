// internal/commands/load.go
package qosflow

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/qosflow/internal/loadgen"
	"github.com/mwiater/qosflow/internal/tui"
)

var (
	loadTUI     bool
	loadRate    float64
	loadPrompts string
)

// loadCmd runs one open-loop load test against the configured target.
var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Run one open-loop load test and write its trace",
	Long: `Send Poisson-distributed requests at loadgen.arrival_rate_rps for warmup_s + duration_s,
record every measured request to <output_dir>/traces/run_id=<id>/trace.jsonl and print the
run summary. Interrupting the run drains in-flight requests before the summary is written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadExperiment()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("rate") {
			cfg = cfg.WithArrivalRate(loadRate, cfg.Experiment.OutputDir)
		}
		if loadPrompts != "" {
			cfg.LoadGen.PromptSource = loadPrompts
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		prompts, err := loadgen.LoadPrompts(cfg.LoadGen.PromptSource, cfg.LoadGen.Thresholds())
		if err != nil {
			return err
		}
		m, err := startMetrics(cmd.Context())
		if err != nil {
			return err
		}

		engine, err := loadgen.NewEngine(cfg, prompts, loadgen.Options{Metrics: m})
		if err != nil {
			return err
		}

		var summary loadgen.RunSummary
		if loadTUI {
			summary, err = tui.RunMonitor(cmd.Context(), engine)
		} else {
			summary, err = engine.Run(cmd.Context())
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, tui.RenderSummary(summary))
		fmt.Fprintln(out, tui.StatusLine(summary))
		return nil
	},
}

func init() {
	loadCmd.Flags().BoolVar(&loadTUI, "tui", false, "show a live terminal monitor while the run is active")
	loadCmd.Flags().Float64Var(&loadRate, "rate", 0, "override loadgen.arrival_rate_rps")
	loadCmd.Flags().StringVar(&loadPrompts, "prompts", "", "override loadgen.prompt_source")

	rootCmd.AddCommand(loadCmd)
}
