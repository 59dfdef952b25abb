// internal/appconfig/appconfig.go
// Package appconfig manages loading and validating experiment configuration.
package appconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is the default path to the experiment configuration file.
	DefaultConfigPath = "configs/experiment.yaml"
	// defaultRequestTimeout is the per-attempt timeout for target requests.
	defaultRequestTimeout = 60 * time.Second
	// defaultMaxRetries bounds retries on 429/503 responses.
	defaultMaxRetries = 3
	// defaultBackoffBase is the first retry delay before doubling.
	defaultBackoffBase = 200 * time.Millisecond
	// defaultBackoffMax caps a single retry delay.
	defaultBackoffMax = 5 * time.Second
	// defaultShortMaxChars is the largest prompt length classified as short.
	defaultShortMaxChars = 160
	// defaultMedMaxChars is the largest prompt length classified as med.
	defaultMedMaxChars = 480
)

// Target kinds.
const (
	TargetNative = "native"
	TargetOpenAI = "openai"
)

// Config is the full experiment configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Target     TargetConfig     `yaml:"target" json:"target"`
	LoadGen    LoadGenConfig    `yaml:"loadgen" json:"loadgen"`
	Eval       EvalConfig       `yaml:"eval" json:"eval"`
	Experiment ExperimentConfig `yaml:"experiment" json:"experiment"`
	ConfigPath string           `yaml:"-" json:"-"`
}

// ServerConfig snapshots the target server and its batching knobs.
type ServerConfig struct {
	Host                string  `yaml:"host" json:"host"`
	Port                int     `yaml:"port" json:"port"`
	Model               string  `yaml:"model" json:"model"`
	Dtype               string  `yaml:"dtype" json:"dtype"`
	MaxNewTokens        int     `yaml:"max_new_tokens" json:"max_new_tokens"`
	Temperature         float64 `yaml:"temperature" json:"temperature"`
	TopP                float64 `yaml:"top_p" json:"top_p"`
	Seed                int64   `yaml:"seed" json:"seed"`
	MaxNumSeqs          int     `yaml:"max_num_seqs" json:"max_num_seqs"`
	MaxNumBatchedTokens int     `yaml:"max_num_batched_tokens" json:"max_num_batched_tokens"`
	SchedulerDelayMS    int     `yaml:"scheduler_delay_ms" json:"scheduler_delay_ms"`
}

// TargetConfig selects the wire protocol and retry policy for the target.
type TargetConfig struct {
	Kind          string `yaml:"kind" json:"kind"`
	BaseURL       string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey        string `yaml:"api_key,omitempty" json:"-"`
	TimeoutS      int    `yaml:"timeout_s,omitempty" json:"timeout_s,omitempty"`
	MaxRetries    *int   `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	BackoffBaseMS int    `yaml:"backoff_base_ms,omitempty" json:"backoff_base_ms,omitempty"`
	BackoffMaxMS  int    `yaml:"backoff_max_ms,omitempty" json:"backoff_max_ms,omitempty"`
}

// MixConfig holds the relative weights of the prompt length buckets.
type MixConfig struct {
	Short float64 `yaml:"short" json:"short"`
	Med   float64 `yaml:"med" json:"med"`
	Long  float64 `yaml:"long" json:"long"`
}

// LengthThresholds are the inclusive upper bounds of the short and med buckets.
type LengthThresholds struct {
	ShortMaxChars int `yaml:"short_max_chars" json:"short_max_chars"`
	MedMaxChars   int `yaml:"med_max_chars" json:"med_max_chars"`
}

// LoadGenConfig describes the offered load.
type LoadGenConfig struct {
	ArrivalRateRPS   float64           `yaml:"arrival_rate_rps" json:"arrival_rate_rps"`
	Concurrency      int               `yaml:"concurrency" json:"concurrency"`
	DurationS        float64           `yaml:"duration_s" json:"duration_s"`
	WarmupS          float64           `yaml:"warmup_s" json:"warmup_s"`
	Repeats          int               `yaml:"repeats" json:"repeats"`
	PromptSource     string            `yaml:"prompt_source" json:"prompt_source"`
	Seed             *int64            `yaml:"seed,omitempty" json:"seed,omitempty"`
	Mix              MixConfig         `yaml:"mix" json:"mix"`
	LengthThresholds *LengthThresholds `yaml:"length_thresholds,omitempty" json:"length_thresholds,omitempty"`
}

// EvalConfig configures offline evaluation.
type EvalConfig struct {
	EnableEmbeddings bool   `yaml:"enable_embeddings" json:"enable_embeddings"`
	EmbeddingModel   string `yaml:"embedding_model" json:"embedding_model"`
}

// ExperimentConfig names the experiment and its output location.
type ExperimentConfig struct {
	Name          string `yaml:"name" json:"name"`
	OutputDir     string `yaml:"output_dir" json:"output_dir"`
	ArchiveTraces bool   `yaml:"archive_traces,omitempty" json:"archive_traces,omitempty"`
}

// RequestTimeout returns the per-attempt timeout for target requests.
func (t TargetConfig) RequestTimeout() time.Duration {
	if t.TimeoutS <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(t.TimeoutS) * time.Second
}

// Retries returns the configured retry budget.
func (t TargetConfig) Retries() int {
	if t.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *t.MaxRetries
}

// BackoffBase returns the initial retry delay.
func (t TargetConfig) BackoffBase() time.Duration {
	if t.BackoffBaseMS <= 0 {
		return defaultBackoffBase
	}
	return time.Duration(t.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the cap on a single retry delay.
func (t TargetConfig) BackoffMax() time.Duration {
	if t.BackoffMaxMS <= 0 {
		return defaultBackoffMax
	}
	return time.Duration(t.BackoffMaxMS) * time.Millisecond
}

// ResolvedBaseURL returns the explicit base URL or one derived from the server host and port.
func (c Config) ResolvedBaseURL() string {
	if u := strings.TrimSpace(c.Target.BaseURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// Thresholds returns the configured bucket thresholds or the defaults.
func (l LoadGenConfig) Thresholds() LengthThresholds {
	if l.LengthThresholds == nil {
		return LengthThresholds{ShortMaxChars: defaultShortMaxChars, MedMaxChars: defaultMedMaxChars}
	}
	return *l.LengthThresholds
}

// Duration returns the measured window length.
func (l LoadGenConfig) Duration() time.Duration {
	return secondsToDuration(l.DurationS)
}

// Warmup returns the warmup window length.
func (l LoadGenConfig) Warmup() time.Duration {
	return secondsToDuration(l.WarmupS)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// WithArrivalRate returns a copy of c driving rate into outputDir.
func (c Config) WithArrivalRate(rate float64, outputDir string) Config {
	out := c
	out.LoadGen.ArrivalRateRPS = rate
	out.Experiment.OutputDir = outputDir
	if c.LoadGen.LengthThresholds != nil {
		th := *c.LoadGen.LengthThresholds
		out.LoadGen.LengthThresholds = &th
	}
	return out
}

// Validate checks every section and reports the first problem found.
func (c Config) Validate() error {
	s := c.Server
	if strings.TrimSpace(s.Model) == "" {
		return errors.New("server.model is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", s.Port)
	}
	switch s.Dtype {
	case "float16", "bfloat16":
	default:
		return fmt.Errorf("server.dtype must be float16 or bfloat16, got %q", s.Dtype)
	}
	if s.MaxNewTokens <= 0 {
		return errors.New("server.max_new_tokens must be positive")
	}
	if s.Temperature < 0 {
		return errors.New("server.temperature must be non-negative")
	}
	if s.TopP < 0 || s.TopP > 1 {
		return errors.New("server.top_p must be within [0, 1]")
	}
	if s.MaxNumSeqs < 0 || s.MaxNumBatchedTokens < 0 || s.SchedulerDelayMS < 0 {
		return errors.New("server batching knobs must be non-negative")
	}

	switch c.Target.Kind {
	case TargetNative, TargetOpenAI:
	default:
		return fmt.Errorf("target.kind must be %q or %q, got %q", TargetNative, TargetOpenAI, c.Target.Kind)
	}
	if c.Target.Retries() < 0 {
		return errors.New("target.max_retries must be non-negative")
	}
	if c.Target.BackoffMax() < c.Target.BackoffBase() {
		return errors.New("target.backoff_max_ms must not be below backoff_base_ms")
	}

	l := c.LoadGen
	if !(l.ArrivalRateRPS > 0) || math.IsInf(l.ArrivalRateRPS, 0) {
		return fmt.Errorf("loadgen.arrival_rate_rps must be positive, got %v", l.ArrivalRateRPS)
	}
	if l.Concurrency <= 0 {
		return errors.New("loadgen.concurrency must be positive")
	}
	if l.DurationS <= 0 {
		return errors.New("loadgen.duration_s must be positive")
	}
	if l.WarmupS < 0 {
		return errors.New("loadgen.warmup_s must be non-negative")
	}
	if l.Repeats <= 0 {
		return errors.New("loadgen.repeats must be positive")
	}
	if strings.TrimSpace(l.PromptSource) == "" {
		return errors.New("loadgen.prompt_source is required")
	}
	if l.Mix.Short < 0 || l.Mix.Med < 0 || l.Mix.Long < 0 {
		return errors.New("loadgen.mix weights must be non-negative")
	}
	if l.Mix.Short+l.Mix.Med+l.Mix.Long <= 0 {
		return errors.New("loadgen.mix must have at least one positive weight")
	}
	th := l.Thresholds()
	if th.ShortMaxChars < 0 || th.MedMaxChars < th.ShortMaxChars {
		return fmt.Errorf("loadgen.length_thresholds must satisfy 0 <= short (%d) <= med (%d)", th.ShortMaxChars, th.MedMaxChars)
	}

	if c.Eval.EnableEmbeddings && strings.TrimSpace(c.Eval.EmbeddingModel) == "" {
		return errors.New("eval.embedding_model is required when enable_embeddings is set")
	}

	if strings.TrimSpace(c.Experiment.Name) == "" {
		return errors.New("experiment.name is required")
	}
	if strings.TrimSpace(c.Experiment.OutputDir) == "" {
		return errors.New("experiment.output_dir is required")
	}
	return nil
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("no configuration file found at %q", path)
		}
		return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	cfg.ConfigPath = path
	return cfg, nil
}

// Parse decodes YAML strictly: unknown keys and trailing documents are errors.
func Parse(data []byte) (Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, errors.New("configuration is empty")
		}
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if trailing != nil {
		return Config{}, errors.New("parse yaml: multiple documents are not supported")
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Target.Kind) == "" {
		cfg.Target.Kind = TargetNative
	}
	cfg.Target.Kind = strings.ToLower(strings.TrimSpace(cfg.Target.Kind))
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
}
