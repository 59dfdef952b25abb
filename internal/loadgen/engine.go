// internal/loadgen/engine.go
package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/client"
	"github.com/mwiater/qosflow/internal/metrics"
	"github.com/mwiater/qosflow/internal/observability"
	"github.com/mwiater/qosflow/internal/runid"
	"github.com/mwiater/qosflow/internal/schema"
	"github.com/mwiater/qosflow/internal/tracesink"
)

// State is the lifecycle position of a load run.
type State int

const (
	StateWarmup State = iota
	StateMeasuring
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWarmup:
		return "warmup"
	case StateMeasuring:
		return "measuring"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RunSummary is computed once when a run reaches StateDone.
type RunSummary struct {
	RunID        string  `json:"run_id"`
	TracePath    string  `json:"trace_path"`
	ManifestPath string  `json:"manifest_path,omitempty"`
	Sent         int     `json:"sent"`
	Success      int     `json:"success"`
	Failed       int     `json:"failed"`
	Discarded    int     `json:"discarded_warmup"`
	P50TotalMS   float64 `json:"p50_total_ms"`
	P95TotalMS   float64 `json:"p95_total_ms"`
	Interrupted  bool    `json:"interrupted,omitempty"`
}

// Snapshot is a point-in-time view of a running engine.
type Snapshot struct {
	RunID     string
	State     State
	Elapsed   time.Duration
	Planned   time.Duration
	Sent      int
	Success   int
	Failed    int
	Discarded int
	Inflight  int
}

// Progress returns elapsed/planned clamped to [0, 1].
func (s Snapshot) Progress() float64 {
	if s.State == StateDone {
		return 1
	}
	if s.Planned <= 0 {
		return 0
	}
	p := float64(s.Elapsed) / float64(s.Planned)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// Options inject collaborators into an Engine. Zero values select the
// production defaults.
type Options struct {
	// Transport defaults to client.NewTransport(cfg).
	Transport client.Transport
	// Rand drives arrivals and prompt sampling. Defaults to a source seeded
	// from loadgen.seed, or the clock when unset.
	Rand *rand.Rand
	// Metrics may be nil.
	Metrics *observability.LoadMetrics
	// Policy overrides the retry policy read from cfg.Target.
	Policy *client.RetryPolicy
	// Now defaults to time.Now.
	Now func() time.Time
}

type runStats struct {
	mu        sync.Mutex
	state     State
	sent      int
	success   int
	failed    int
	discarded int
	inflight  int
	durations []float64
	appendErr error
}

// Engine drives open-loop Poisson load against one target.
type Engine struct {
	cfg      appconfig.Config
	opts     Options
	queue    *repeatQueue
	arrivals *ArrivalScheduler
	gate     *semaphore.Weighted
	runID    string
	created  time.Time

	started time.Time
	planned time.Duration
	stats   runStats
}

// NewEngine validates cfg and prompts and prepares a run. No traffic is sent.
func NewEngine(cfg appconfig.Config, prompts []schema.PromptInput, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		seed := time.Now().UnixNano()
		if cfg.LoadGen.Seed != nil {
			seed = *cfg.LoadGen.Seed
		}
		opts.Rand = rand.New(rand.NewSource(seed))
	}
	if opts.Transport == nil {
		t, err := client.NewTransport(cfg)
		if err != nil {
			return nil, err
		}
		opts.Transport = t
	}

	sampler, err := NewMixSampler(prompts, cfg.LoadGen.Mix, opts.Rand)
	if err != nil {
		return nil, err
	}
	queue, err := newRepeatQueue(sampler, cfg.LoadGen.Repeats)
	if err != nil {
		return nil, err
	}
	arrivals, err := NewArrivalScheduler(cfg.LoadGen.ArrivalRateRPS, opts.Rand)
	if err != nil {
		return nil, err
	}

	created := opts.Now().UTC()
	id, err := runid.ForConfig(created, cfg)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		opts:     opts,
		queue:    queue,
		arrivals: arrivals,
		gate:     semaphore.NewWeighted(int64(max(1, cfg.LoadGen.Concurrency))),
		runID:    id,
		created:  created,
		planned:  cfg.LoadGen.Warmup() + cfg.LoadGen.Duration(),
	}, nil
}

// RunID returns the identifier derived for this run.
func (e *Engine) RunID() string { return e.runID }

// TracePath returns where the trace of this run is written.
func (e *Engine) TracePath() string {
	return tracesink.TracePath(e.cfg.Experiment.OutputDir, e.runID)
}

// Snapshot returns the current counters. It is safe to call concurrently
// with Run.
func (e *Engine) Snapshot() Snapshot {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	snap := Snapshot{
		RunID:     e.runID,
		State:     e.stats.state,
		Planned:   e.planned,
		Sent:      e.stats.sent,
		Success:   e.stats.success,
		Failed:    e.stats.failed,
		Discarded: e.stats.discarded,
		Inflight:  e.stats.inflight,
	}
	if !e.started.IsZero() {
		snap.Elapsed = time.Since(e.started)
	}
	return snap
}

func (e *Engine) setState(s State) {
	e.stats.mu.Lock()
	changed := e.stats.state != s
	e.stats.state = s
	e.stats.mu.Unlock()
	if changed {
		e.opts.Metrics.SetEngineState(int(s))
		logrus.WithFields(logrus.Fields{"run_id": e.runID, "state": s.String()}).Debug("engine state changed")
	}
}

// Run issues load until the warmup and measured windows elapse or ctx is
// cancelled, waits for every in-flight request, and returns the summary.
// Admitted requests are never cancelled by the stop deadline.
func (e *Engine) Run(ctx context.Context) (RunSummary, error) {
	tracePath := e.TracePath()
	sink, err := tracesink.Open(tracePath)
	if err != nil {
		return RunSummary{}, err
	}
	defer sink.Close()

	manifestPath := filepath.Join(filepath.Dir(tracePath), "manifest.json")
	manifest, err := runid.NewManifest(ctx, e.runID, e.created, e.cfg)
	if err != nil {
		return RunSummary{}, err
	}
	if err := runid.WriteManifest(manifestPath, manifest); err != nil {
		return RunSummary{}, err
	}

	policy := client.PolicyFromConfig(e.cfg.Target)
	if e.opts.Policy != nil {
		policy = *e.opts.Policy
	}
	executor := client.NewExecutor(e.opts.Transport, client.ExecutorOptions{
		RunID:  e.runID,
		Server: traceServer(e.cfg.Server),
		Params: traceParams(e.cfg.Server),
		Policy: policy,
		OnRetry: func(status, attempt int) {
			e.opts.Metrics.RecordRetry(status)
		},
		Now: e.opts.Now,
	})

	log := logrus.WithFields(logrus.Fields{
		"run_id":      e.runID,
		"rate":        e.cfg.LoadGen.ArrivalRateRPS,
		"concurrency": e.cfg.LoadGen.Concurrency,
	})
	log.Infof("starting load: warmup %s, measuring %s", e.cfg.LoadGen.Warmup(), e.cfg.LoadGen.Duration())

	start := time.Now()
	e.stats.mu.Lock()
	e.started = start
	e.stats.mu.Unlock()
	e.opts.Metrics.SetEngineState(int(StateWarmup))

	warmupEnd := start.Add(e.cfg.LoadGen.Warmup())
	stopAt := warmupEnd.Add(e.cfg.LoadGen.Duration())
	schedCtx, cancel := context.WithDeadline(ctx, stopAt)
	defer cancel()
	requestCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	interrupted := false

	// MEASURING follows the clock, not admissions.
	var warmupC <-chan time.Time
	if warmup := e.cfg.LoadGen.Warmup(); warmup > 0 {
		warmupTimer := time.NewTimer(warmup)
		defer warmupTimer.Stop()
		warmupC = warmupTimer.C
	} else {
		e.setState(StateMeasuring)
	}

loop:
	for {
		timer := time.NewTimer(e.arrivals.Next())
	wait:
		for {
			select {
			case <-schedCtx.Done():
				timer.Stop()
				break loop
			case <-warmupC:
				warmupC = nil
				e.setState(StateMeasuring)
			case <-timer.C:
				break wait
			}
		}
		if !time.Now().Before(stopAt) {
			break
		}
		if err := e.gate.Acquire(schedCtx, 1); err != nil {
			break
		}

		item := e.queue.next()
		measured := !time.Now().Before(warmupEnd)
		if measured {
			e.setState(StateMeasuring)
		}
		e.trackInflight(1)

		wg.Add(1)
		go func(item pendingItem, measured bool) {
			defer wg.Done()
			defer e.gate.Release(1)
			defer e.trackInflight(-1)

			rec := executor.Execute(requestCtx, item.prompt, item.repeatIdx)
			e.complete(sink, rec, measured)
		}(item, measured)
	}
	if ctx.Err() != nil {
		interrupted = true
		log.Warn("load interrupted, draining in-flight requests")
	}

	e.setState(StateDraining)
	wg.Wait()
	e.setState(StateDone)

	if err := sink.Close(); err != nil {
		return RunSummary{}, fmt.Errorf("close trace: %w", err)
	}

	summary := e.summarize()
	summary.TracePath = tracePath
	summary.ManifestPath = manifestPath
	summary.Interrupted = interrupted
	if e.stats.appendErr != nil {
		return summary, fmt.Errorf("trace append failed: %w", e.stats.appendErr)
	}

	if e.cfg.Experiment.ArchiveTraces {
		archived, err := tracesink.Archive(tracePath, true)
		if err != nil {
			return summary, err
		}
		summary.TracePath = archived
	}
	if err := writeSummary(filepath.Join(filepath.Dir(tracePath), "run_summary.json"), summary); err != nil {
		return summary, err
	}

	log.WithFields(logrus.Fields{
		"sent":    summary.Sent,
		"success": summary.Success,
		"failed":  summary.Failed,
		"p95_ms":  fmt.Sprintf("%.2f", summary.P95TotalMS),
	}).Info("load complete")
	return summary, nil
}

func (e *Engine) trackInflight(delta int) {
	e.stats.mu.Lock()
	e.stats.inflight += delta
	e.stats.mu.Unlock()
	if delta > 0 {
		e.opts.Metrics.IncInflight()
	} else {
		e.opts.Metrics.DecInflight()
	}
}

// complete persists a measured record and updates the counters. Warmup
// records are dropped.
func (e *Engine) complete(sink *tracesink.Sink, rec schema.TraceRecord, measured bool) {
	outcome := observability.OutcomeSuccess
	if rec.System.Failed() {
		outcome = observability.OutcomeFailed
	}
	phase := StateMeasuring.String()
	if !measured {
		phase = StateWarmup.String()
	}
	e.opts.Metrics.RecordRequest(outcome, phase, time.Duration(rec.TotalMS*float64(time.Millisecond)), measured)

	if !measured {
		e.stats.mu.Lock()
		e.stats.discarded++
		e.stats.mu.Unlock()
		return
	}

	appendErr := sink.Append(rec)

	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	if appendErr != nil {
		if e.stats.appendErr == nil {
			e.stats.appendErr = appendErr
		}
		logrus.WithField("run_id", e.runID).Errorf("dropping trace record: %v", appendErr)
		return
	}
	e.stats.sent++
	if rec.System.Failed() {
		e.stats.failed++
	} else {
		e.stats.success++
	}
	e.stats.durations = append(e.stats.durations, rec.TotalMS)
}

func (e *Engine) summarize() RunSummary {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	return RunSummary{
		RunID:      e.runID,
		Sent:       e.stats.sent,
		Success:    e.stats.success,
		Failed:     e.stats.failed,
		Discarded:  e.stats.discarded,
		P50TotalMS: metrics.Percentile(e.stats.durations, 0.50),
		P95TotalMS: metrics.Percentile(e.stats.durations, 0.95),
	}
}

// RunLoad builds an Engine and runs it to completion.
func RunLoad(ctx context.Context, cfg appconfig.Config, prompts []schema.PromptInput, opts Options) (RunSummary, error) {
	engine, err := NewEngine(cfg, prompts, opts)
	if err != nil {
		return RunSummary{}, err
	}
	return engine.Run(ctx)
}

// ReadSummary loads a run_summary.json written by Run.
func ReadSummary(path string) (RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunSummary{}, err
	}
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return RunSummary{}, fmt.Errorf("decode run summary %q: %w", path, err)
	}
	if s.RunID == "" {
		return RunSummary{}, errors.New("run summary has no run_id")
	}
	return s, nil
}

func writeSummary(path string, s RunSummary) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating summary file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("error writing summary: %w", err)
	}
	return nil
}

func traceServer(s appconfig.ServerConfig) schema.TraceServer {
	return schema.TraceServer{
		Model: s.Model,
		Dtype: s.Dtype,
		BatchingKnobs: schema.BatchingKnobs{
			MaxNumSeqs:          s.MaxNumSeqs,
			MaxNumBatchedTokens: s.MaxNumBatchedTokens,
			SchedulerDelayMS:    s.SchedulerDelayMS,
		},
	}
}

func traceParams(s appconfig.ServerConfig) schema.TraceParams {
	return schema.TraceParams{
		Temperature:  s.Temperature,
		TopP:         s.TopP,
		Seed:         s.Seed,
		MaxNewTokens: s.MaxNewTokens,
	}
}
