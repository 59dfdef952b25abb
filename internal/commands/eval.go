// internal/commands/eval.go
package qosflow

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/loadgen"
	"github.com/mwiater/qosflow/internal/metrics"
	"github.com/mwiater/qosflow/internal/tui"
)

var (
	evalTraces    string
	evalOutputDir string
	evalPrompts   string
)

// evalCmd reduces existing traces into eval/metrics.json and metrics.csv.
var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate traces into latency, task and stability metrics",
	Long: `Read every trace matching --traces (.jsonl or .jsonl.zst), compute latency, error rate,
throughput and, when available, task and stability quality, and write
<output-dir>/eval/metrics.json and metrics.csv. --prompts joins reference answers for
task metrics by prompt_id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := referenceAnswers(evalPrompts)
		if err != nil {
			return err
		}
		res, err := metrics.Evaluate(evalTraces, evalOutputDir, refs)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, tui.RenderMetrics(res.Row))
		fmt.Fprintln(out, tui.Success("metrics written to %s", res.JSONPath))
		return nil
	},
}

// referenceAnswers loads expected answers from a prompt file; an empty path
// yields no references.
func referenceAnswers(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	prompts, err := loadgen.LoadPrompts(path, appconfig.LoadGenConfig{}.Thresholds())
	if err != nil {
		return nil, err
	}
	return loadgen.ReferenceAnswers(prompts), nil
}

func init() {
	evalCmd.Flags().StringVar(&evalTraces, "traces", "", "glob of trace files to evaluate (required)")
	evalCmd.Flags().StringVar(&evalOutputDir, "output-dir", "", "directory that receives eval/ (required)")
	evalCmd.Flags().StringVar(&evalPrompts, "prompts", "", "prompt JSONL with expected answers")
	_ = evalCmd.MarkFlagRequired("traces")
	_ = evalCmd.MarkFlagRequired("output-dir")

	rootCmd.AddCommand(evalCmd)
}
