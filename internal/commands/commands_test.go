package qosflow

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/qosflow/internal/catalog"
	"github.com/mwiater/qosflow/internal/logging"
	"github.com/mwiater/qosflow/internal/metrics"
	"github.com/mwiater/qosflow/internal/phase"
	"github.com/mwiater/qosflow/internal/stubserver"
)

const configTemplate = `
server:
  host: 127.0.0.1
  port: 8000
  model: stub-model
  dtype: float16
  max_new_tokens: 16
  temperature: 0
  top_p: 1
  seed: 1
  max_num_seqs: 8
  max_num_batched_tokens: 2048
  scheduler_delay_ms: 0
target:
  kind: native
  base_url: %s
  timeout_s: 5
  max_retries: 1
  backoff_base_ms: 1
  backoff_max_ms: 2
loadgen:
  arrival_rate_rps: 80
  concurrency: 4
  duration_s: 0.3
  warmup_s: 0
  repeats: 2
  prompt_source: %s
  seed: 5
  mix: {short: 1, med: 0, long: 0}
eval:
  enable_embeddings: false
  embedding_model: ""
experiment:
  name: cli-test
  output_dir: %s
`

const promptsJSONL = `{"prompt_id":"capital","text":"capital of France?","expected":"Paris"}
{"prompt_id":"color","text":"color of the sky?","expected":"blue"}
`

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeExperiment writes a prompt file and an experiment config targeting baseURL.
func writeExperiment(t *testing.T, baseURL string) (configPath, promptsPath, outDir string) {
	t.Helper()
	dir := t.TempDir()
	promptsPath = writeFile(t, filepath.Join(dir, "prompts.jsonl"), promptsJSONL)
	outDir = filepath.Join(dir, "out")
	configPath = writeFile(t, filepath.Join(dir, "experiment.yaml"), fmt.Sprintf(configTemplate, baseURL, promptsPath, outDir))
	return configPath, promptsPath, outDir
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { _ = logging.Close() })
	t.Cleanup(resetFlags)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	_, err := rootCmd.ExecuteContextC(context.Background())
	return buf.String(), err
}

// resetFlags restores every flag of every command to its default.
func resetFlags() {
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				_ = sv.Replace(nil)
			} else {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
	reset(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		reset(c.Flags())
		for _, sub := range c.Commands() {
			reset(sub.Flags())
		}
	}
}

// TestRootCmd verifies running the root command with an invalid subcommand reports an error.
func TestRootCmd(t *testing.T) {
	out, err := execute(t, "nonexistent")
	assert.Error(t, err)
	assert.Contains(t, out, `unknown command "nonexistent" for "qosflow"`)
}

func TestShowConfigCommandOutput(t *testing.T) {
	configPath, _, _ := writeExperiment(t, "http://127.0.0.1:9")

	out, err := execute(t, "--config", configPath, "config", "show", "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, "Config file: "+configPath)
	assert.Contains(t, out, "stub-model")
	assert.Contains(t, out, "Run ID (now):")
	assert.Contains(t, out, "cli-test")
}

func TestShowConfigMissingFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "config", "show")
	assert.Error(t, err)
}

func TestLoadThenEvalCommands(t *testing.T) {
	stub := stubserver.New(stubserver.Config{Answers: map[string]string{"capital of France?": "Paris"}})
	srv := httptest.NewServer(stub.Handler())
	defer srv.Close()

	configPath, promptsPath, outDir := writeExperiment(t, srv.URL)

	out, err := execute(t, "--config", configPath, "--log-level", "warn", "load")
	require.NoError(t, err)
	assert.Contains(t, out, "Run Summary")
	assert.Contains(t, out, "run ")

	evalDir := t.TempDir()
	out, err = execute(t, "eval",
		"--traces", filepath.Join(outDir, "traces", "run_id=*", "trace.jsonl*"),
		"--output-dir", evalDir,
		"--prompts", promptsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Metrics")

	row, err := metrics.ReadJSON(filepath.Join(evalDir, "eval", "metrics.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, row.TraceFiles)
	assert.Greater(t, row.Count, 0)
	require.NotNil(t, row.TaskExactMatch)
	assert.Greater(t, *row.TaskExactMatch, 0.0)
}

func TestEvalRequiresFlags(t *testing.T) {
	_, err := execute(t, "eval")
	assert.Error(t, err)
}

func TestPhaseCommandFromCatalog(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	store, err := catalog.Open(context.Background(), dbPath)
	require.NoError(t, err)
	rates := []float64{10, 20, 30, 40, 50, 60, 70, 80}
	quality := []float64{0.99, 0.98, 0.97, 0.96, 0.85, 0.72, 0.6, 0.45}
	for i, rate := range rates {
		q := quality[i]
		row := metrics.MetricsRow{LatencyP95: 100 + rate, MeanQuality: &q}.WithArrivalRate(rate)
		require.NoError(t, store.RecordMetrics(context.Background(), "knee", "synthetic", row))
	}
	require.NoError(t, store.Close())

	outDir := filepath.Join(dir, "phase")
	out, err := execute(t, "phase", "--catalog", dbPath, "--experiment", "knee", "--output-dir", outDir, "--bootstrap-samples", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase Transition")

	res, err := phase.ReadResult(filepath.Join(outDir, "phase.json"))
	require.NoError(t, err)
	assert.Equal(t, 45.0, res.BreakpointRPS)
	assert.Equal(t, phase.SourceMeanQuality, res.QualitySource)
}

func TestPhaseCommandNeedsInput(t *testing.T) {
	_, err := execute(t, "phase")
	assert.Error(t, err)
}

func TestSweepCommandEvalOnly(t *testing.T) {
	stub := stubserver.New(stubserver.Config{})
	srv := httptest.NewServer(stub.Handler())
	defer srv.Close()

	configPath, _, outDir := writeExperiment(t, srv.URL)

	out, err := execute(t, "--config", configPath, "sweep", "--rates", "20,40")
	require.NoError(t, err)
	assert.Contains(t, out, "Sweep")
	assert.FileExists(t, filepath.Join(outDir, "summary.csv"))

	out, err = execute(t, "--config", configPath, "sweep", "--rates", "20,40", "--eval-only", "--phase")
	require.NoError(t, err)
	assert.Contains(t, out, "phase detection skipped")
}

func TestSweepRequiresRates(t *testing.T) {
	configPath, _, _ := writeExperiment(t, "http://127.0.0.1:9")
	_, err := execute(t, "--config", configPath, "sweep")
	assert.Error(t, err)
}
