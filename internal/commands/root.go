// internal/commands/root.go
package qosflow

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/logging"
	"github.com/mwiater/qosflow/internal/observability"
)

var (
	cfgFile    string
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "qosflow",
	Short:        "qosflow: QoS and phase-transition benchmarking for text-generation services",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(viper.GetString("log-file"), viper.GetString("log-level")); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logging.Close()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", appconfig.DefaultConfigPath, "experiment config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "append logs to this file")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus /metrics on this address during load (e.g. :9090)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("metrics-addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
}

// initConfig wires QOSFLOW_* environment variables under the bound flags.
func initConfig() {
	viper.SetEnvPrefix("QOSFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadExperiment reads the experiment config selected by --config or QOSFLOW_CONFIG.
func loadExperiment() (appconfig.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = cfgFile
	}
	cfg, err := appconfig.Load(path)
	if err != nil {
		return appconfig.Config{}, err
	}
	logrus.WithFields(logrus.Fields{
		"config":     cfg.ConfigPath,
		"experiment": cfg.Experiment.Name,
	}).Debug("experiment config loaded")
	return cfg, nil
}

// startMetrics serves /metrics when --metrics-addr is set. It returns nil
// metrics otherwise, which every recorder accepts.
func startMetrics(ctx context.Context) (*observability.LoadMetrics, error) {
	addr := viper.GetString("metrics-addr")
	if addr == "" {
		return nil, nil
	}
	m := observability.NewLoadMetrics()
	errc, err := m.Serve(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener %s: %w", addr, err)
	}
	go func() {
		if err := <-errc; err != nil {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
	return m, nil
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}
