// internal/commands/show_config.go
package qosflow

import (
	"fmt"
	"time"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/runid"
)

var showConfigRaw bool

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the experiment configuration",
}

// showConfigCmd implements 'config show', which displays the effective configuration settings.
var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show config settings",
	Long:  `Show the effective experiment configuration after defaults are applied, and the run id a load started now would receive.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadExperiment()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		appconfig.ShowConfig(out, cfg)

		id, err := runid.ForConfig(time.Now().UTC(), cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  Run ID (now):    %s\n", id)

		if showConfigRaw {
			fmt.Fprintln(out)
			pp.Fprintln(out, cfg)
		}
		return nil
	},
}

func init() {
	showConfigCmd.Flags().BoolVar(&showConfigRaw, "raw", false, "also dump the decoded config structure")

	configCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(configCmd)
}
