// internal/commands/stub_server.go
package qosflow

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/loadgen"
	"github.com/mwiater/qosflow/internal/stubserver"
)

var (
	stubAddr    string
	stubPrompts string
	stubCfg     stubserver.Config
)

// stubServerCmd serves a synthetic /generate target for local experiments.
var stubServerCmd = &cobra.Command{
	Use:   "stub-server",
	Short: "Serve a synthetic text-generation target with a load-dependent quality model",
	Long: `Serve POST /generate with latency that grows with in-flight requests, 503 responses past
--capacity, and answers that degrade past --degrade-above concurrent requests. With
--prompts, prompts that carry an expected answer are answered with it; others are echoed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := stubCfg
		if stubPrompts != "" {
			prompts, err := loadgen.LoadPrompts(stubPrompts, appconfig.LoadGenConfig{}.Thresholds())
			if err != nil {
				return err
			}
			cfg.Answers = make(map[string]string)
			for _, p := range prompts {
				if p.Expected != nil {
					cfg.Answers[p.Text] = *p.Expected
				}
			}
		}
		return stubserver.New(cfg).ListenAndServe(cmd.Context(), stubAddr)
	},
}

func init() {
	stubServerCmd.Flags().StringVar(&stubAddr, "addr", "127.0.0.1:8000", "listen address")
	stubServerCmd.Flags().StringVar(&stubPrompts, "prompts", "", "prompt JSONL whose expected answers the stub returns")
	stubServerCmd.Flags().DurationVar(&stubCfg.BaseLatency, "base-latency", 20*time.Millisecond, "service time with nothing else in flight")
	stubServerCmd.Flags().DurationVar(&stubCfg.PerInflight, "per-inflight", 2*time.Millisecond, "latency added per concurrent request")
	stubServerCmd.Flags().IntVar(&stubCfg.Capacity, "capacity", 0, "largest in-flight count served before 503 (0 disables)")
	stubServerCmd.Flags().IntVar(&stubCfg.DegradeAbove, "degrade-above", 0, "in-flight count past which answers are truncated (0 disables)")

	rootCmd.AddCommand(stubServerCmd)
}
