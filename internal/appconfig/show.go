package appconfig

import (
	"fmt"
	"io"
)

// ShowConfig prints a summary of the effective configuration.
func ShowConfig(out io.Writer, cfg Config) {
	if cfg.ConfigPath == "" {
		fmt.Fprintln(out, "No config file loaded.")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", cfg.ConfigPath)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Experiment:      %s -> %s\n", cfg.Experiment.Name, cfg.Experiment.OutputDir)
	fmt.Fprintf(out, "  Target:          %s (%s)\n", cfg.ResolvedBaseURL(), cfg.Target.Kind)
	fmt.Fprintf(out, "  Model:           %s [%s]\n", cfg.Server.Model, cfg.Server.Dtype)
	fmt.Fprintf(out, "  Sampling:        temperature=%.2f top_p=%.2f seed=%d max_new_tokens=%d\n",
		cfg.Server.Temperature, cfg.Server.TopP, cfg.Server.Seed, cfg.Server.MaxNewTokens)
	fmt.Fprintf(out, "  Batching:        max_num_seqs=%d max_num_batched_tokens=%d scheduler_delay_ms=%d\n",
		cfg.Server.MaxNumSeqs, cfg.Server.MaxNumBatchedTokens, cfg.Server.SchedulerDelayMS)
	fmt.Fprintf(out, "  Arrival Rate:    %.2f rps\n", cfg.LoadGen.ArrivalRateRPS)
	fmt.Fprintf(out, "  Concurrency:     %d\n", cfg.LoadGen.Concurrency)
	fmt.Fprintf(out, "  Window:          warmup %s, measure %s\n", cfg.LoadGen.Warmup(), cfg.LoadGen.Duration())
	fmt.Fprintf(out, "  Repeats:         %d\n", cfg.LoadGen.Repeats)
	fmt.Fprintf(out, "  Prompts:         %s\n", cfg.LoadGen.PromptSource)
	fmt.Fprintf(out, "  Mix:             short=%.2f med=%.2f long=%.2f\n", cfg.LoadGen.Mix.Short, cfg.LoadGen.Mix.Med, cfg.LoadGen.Mix.Long)
	th := cfg.LoadGen.Thresholds()
	fmt.Fprintf(out, "  Buckets:         short<=%d med<=%d\n", th.ShortMaxChars, th.MedMaxChars)
	fmt.Fprintf(out, "  Retries:         %d (base %s, cap %s, timeout %s)\n",
		cfg.Target.Retries(), cfg.Target.BackoffBase(), cfg.Target.BackoffMax(), cfg.Target.RequestTimeout())
	if cfg.Experiment.ArchiveTraces {
		fmt.Fprintln(out, "  Archive Traces:  true")
	}
}
