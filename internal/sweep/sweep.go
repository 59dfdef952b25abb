// internal/sweep/sweep.go
// Package sweep runs one load and evaluation per arrival rate and collects
// the per-rate metrics into a single table.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/catalog"
	"github.com/mwiater/qosflow/internal/loadgen"
	"github.com/mwiater/qosflow/internal/metrics"
	"github.com/mwiater/qosflow/internal/phase"
	"github.com/mwiater/qosflow/internal/schema"
)

// LoadFunc runs one load. It matches loadgen.RunLoad.
type LoadFunc func(ctx context.Context, cfg appconfig.Config, prompts []schema.PromptInput, opts loadgen.Options) (loadgen.RunSummary, error)

// Options configure a sweep.
type Options struct {
	Rates []float64
	// OutputDir defaults to cfg.Experiment.OutputDir.
	OutputDir string
	// Resume reuses a rate's eval/metrics.json when it exists.
	Resume bool
	// EvalOnly re-evaluates existing traces without sending load.
	EvalOnly bool
	// Refs maps prompt ids to reference answers for task metrics.
	Refs map[string]string

	Load        LoadFunc
	LoadOptions loadgen.Options

	// Catalog, when set, records every run and metrics row.
	Catalog *catalog.Store
	// DetectPhase runs phase detection over the collected rows.
	DetectPhase  bool
	PhaseOptions phase.Options
	// Parallelism bounds concurrent evaluations in EvalOnly mode.
	Parallelism int
}

// Result is the outcome of a sweep.
type Result struct {
	Rows        []metrics.MetricsRow
	SummaryPath string
	Phase       *phase.PhaseResult
	PhaseErr    error
}

// LambdaToken formats a rate the way it appears in directory names.
func LambdaToken(rate float64) string {
	return strconv.FormatFloat(rate, 'g', -1, 64)
}

// LambdaDir returns <outputDir>/lambda=<token>.
func LambdaDir(outputDir string, rate float64) string {
	return filepath.Join(outputDir, "lambda="+LambdaToken(rate))
}

// TracesGlob matches every trace, plain or archived, under a rate directory.
func TracesGlob(lambdaDir string) string {
	return filepath.Join(lambdaDir, "traces", "run_id=*", "trace.jsonl*")
}

// Run executes the sweep and writes <outputDir>/summary.csv sorted by rate.
func Run(ctx context.Context, cfg appconfig.Config, prompts []schema.PromptInput, opts Options) (Result, error) {
	if len(opts.Rates) == 0 {
		return Result{}, errors.New("arrival rates must not be empty")
	}
	for _, r := range opts.Rates {
		if !(r > 0) {
			return Result{}, fmt.Errorf("arrival rate must be positive, got %v", r)
		}
	}
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = cfg.Experiment.OutputDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("error creating sweep directory: %w", err)
	}
	if opts.Load == nil {
		opts.Load = loadgen.RunLoad
	}

	var (
		rows []metrics.MetricsRow
		err  error
	)
	if opts.EvalOnly {
		rows, err = evaluateExisting(ctx, outDir, opts)
	} else {
		rows, err = runRates(ctx, cfg, prompts, outDir, opts)
	}
	if err != nil {
		return Result{}, err
	}

	sort.SliceStable(rows, func(i, j int) bool { return *rows[i].ArrivalRateRPS < *rows[j].ArrivalRateRPS })
	res := Result{Rows: rows, SummaryPath: filepath.Join(outDir, "summary.csv")}
	if err := metrics.WriteCSV(res.SummaryPath, rows); err != nil {
		return Result{}, err
	}

	if opts.Catalog != nil {
		for _, row := range rows {
			if err := opts.Catalog.RecordMetrics(ctx, cfg.Experiment.Name, res.SummaryPath, row); err != nil {
				return Result{}, err
			}
		}
	}

	if opts.DetectPhase {
		phaseRows := make([]phase.Row, len(rows))
		for i, row := range rows {
			phaseRows[i] = phase.RowFromMetrics(row, LambdaDir(outDir, *row.ArrivalRateRPS))
		}
		pr, _, err := phase.DetectRows(phaseRows, filepath.Join(outDir, "phase"), opts.PhaseOptions)
		if err != nil {
			res.PhaseErr = err
			logrus.Warnf("phase detection skipped: %v", err)
		} else {
			res.Phase = &pr
		}
	}
	logrus.Infof("sweep of %d rates written to %s", len(rows), res.SummaryPath)
	return res, nil
}

func runRates(ctx context.Context, cfg appconfig.Config, prompts []schema.PromptInput, outDir string, opts Options) ([]metrics.MetricsRow, error) {
	rows := make([]metrics.MetricsRow, 0, len(opts.Rates))
	for _, rate := range opts.Rates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		token := LambdaToken(rate)
		lambdaDir := LambdaDir(outDir, rate)
		metricsPath := filepath.Join(lambdaDir, "eval", "metrics.json")
		log := logrus.WithFields(logrus.Fields{"rate": rate, "dir": lambdaDir})

		if opts.Resume {
			if m, err := metrics.ReadJSON(metricsPath); err == nil {
				log.Info("reusing existing metrics")
				rows = append(rows, m.WithArrivalRate(rate))
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}

		rateCfg := cfg.WithArrivalRate(rate, lambdaDir)
		rateCfg.Experiment.Name = fmt.Sprintf("%s-lambda=%s", cfg.Experiment.Name, token)
		log.Info("running load")
		summary, err := opts.Load(ctx, rateCfg, prompts, opts.LoadOptions)
		if err != nil {
			return nil, fmt.Errorf("load at %s rps: %w", token, err)
		}
		if summary.Interrupted {
			// A partial trace must not leave metrics that a resumed sweep would reuse.
			log.Warn("load interrupted, not evaluating partial trace")
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, context.Canceled
		}
		if opts.Catalog != nil {
			entry := catalog.RunEntry{
				RunID:       summary.RunID,
				Experiment:  cfg.Experiment.Name,
				ArrivalRate: rate,
				TracePath:   summary.TracePath,
				Sent:        summary.Sent,
				Success:     summary.Success,
				Failed:      summary.Failed,
				P50TotalMS:  summary.P50TotalMS,
				P95TotalMS:  summary.P95TotalMS,
			}
			if err := opts.Catalog.RecordRun(ctx, entry); err != nil {
				return nil, err
			}
		}

		ev, err := metrics.Evaluate(TracesGlob(lambdaDir), lambdaDir, opts.Refs)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s rps: %w", token, err)
		}
		rows = append(rows, ev.Row.WithArrivalRate(rate))
	}
	return rows, nil
}

// evaluateExisting re-evaluates every rate directory concurrently.
func evaluateExisting(ctx context.Context, outDir string, opts Options) ([]metrics.MetricsRow, error) {
	rows := make([]metrics.MetricsRow, len(opts.Rates))
	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g.SetLimit(limit)

	for i, rate := range opts.Rates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lambdaDir := LambdaDir(outDir, rate)
			ev, err := metrics.Evaluate(TracesGlob(lambdaDir), lambdaDir, opts.Refs)
			if err != nil {
				return fmt.Errorf("evaluate %s rps: %w", LambdaToken(rate), err)
			}
			rows[i] = ev.Row.WithArrivalRate(rate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}
