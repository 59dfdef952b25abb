// internal/client/executor.go
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/hashing"
	"github.com/mwiater/qosflow/internal/schema"
)

var (
	// ErrNonRetriable marks a response the executor never retries.
	ErrNonRetriable = errors.New("non-retriable response")
	// ErrRetriesExhausted marks a retriable response that persisted past the retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RetryPolicy bounds retries of 429 and 503 responses.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	// Jitter returns a uniform duration in [0, max]. Nil uses math/rand/v2.
	Jitter func(max time.Duration) time.Duration
}

// PolicyFromConfig reads the retry settings of a target.
func PolicyFromConfig(t appconfig.TargetConfig) RetryPolicy {
	return RetryPolicy{MaxRetries: t.Retries(), Base: t.BackoffBase(), Max: t.BackoffMax()}
}

// Delay returns the pre-jitter wait before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Backoff returns Delay(attempt) plus up to 10% jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Delay(attempt)
	maxJitter := d / 10
	if maxJitter <= 0 {
		return d
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = func(max time.Duration) time.Duration { return time.Duration(rand.Int64N(int64(max) + 1)) }
	}
	return d + jitter(maxJitter)
}

// Retriable reports whether a status is eligible for retry.
func Retriable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// ExecutorOptions configure an Executor.
type ExecutorOptions struct {
	RunID  string
	Server schema.TraceServer
	Params schema.TraceParams
	Policy RetryPolicy
	// OnRetry is called before each backoff sleep.
	OnRetry func(status, attempt int)
	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor runs one request's attempt sequence and records it.
type Executor struct {
	transport Transport
	opts      ExecutorOptions
}

// NewExecutor returns an executor bound to one run.
func NewExecutor(t Transport, opts ExecutorOptions) *Executor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Executor{transport: t, opts: opts}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute sends prompt, retrying 429/503 with backoff, and returns the trace
// record of the whole sequence. Failures are recorded, never returned.
func (e *Executor) Execute(ctx context.Context, prompt schema.PromptInput, repeatIdx int) schema.TraceRecord {
	start := e.opts.Now()
	req := GenerateRequest{Prompt: prompt.Text, Params: e.opts.Params}

	var (
		result   GenerateResult
		err      error
		attempts int
	)
	for attempt := 0; ; attempt++ {
		attempts = attempt + 1
		result, err = e.transport.Generate(ctx, req)
		if err == nil {
			break
		}
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			break
		}
		if !Retriable(statusErr.StatusCode) {
			err = fmt.Errorf("%w: %w", ErrNonRetriable, err)
			break
		}
		if attempt >= e.opts.Policy.MaxRetries {
			err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
			break
		}
		if e.opts.OnRetry != nil {
			e.opts.OnRetry(statusErr.StatusCode, attempts)
		}
		if sleepErr := e.opts.Sleep(ctx, e.opts.Policy.Backoff(attempt)); sleepErr != nil {
			err = fmt.Errorf("backoff interrupted: %w", sleepErr)
			break
		}
	}
	end := e.opts.Now()
	if end.Before(start) {
		end = start
	}

	var errMsg *string
	if err != nil {
		msg := err.Error()
		errMsg = &msg
		result.Text = ""
		logrus.WithFields(logrus.Fields{
			"run_id":    e.opts.RunID,
			"prompt_id": prompt.PromptID,
			"status":    result.StatusCode,
			"attempts":  attempts,
		}).Debugf("request failed: %v", err)
	}

	return schema.TraceRecord{
		Version:   schema.TraceVersion,
		RequestID: uuid.NewString(),
		RunID:     e.opts.RunID,
		PromptID:  prompt.PromptID,
		RepeatIdx: repeatIdx,
		TsStartNS: start.UnixNano(),
		TsEndNS:   end.UnixNano(),
		TotalMS:   float64(end.Sub(start)) / float64(time.Millisecond),
		Params:    e.opts.Params,
		Server:    e.opts.Server,
		System: schema.TraceSystem{
			HTTPStatus: result.StatusCode,
			Error:      errMsg,
			Attempts:   attempts,
			BatchSize:  result.BatchSize,
			QueueMS:    nonNegative(result.QueueMS),
			PrefillMS:  nonNegative(result.PrefillMS),
			DecodeMS:   nonNegative(result.DecodeMS),
		},
		PromptHash:     hashing.SHA256Text(prompt.Text),
		OutputHash:     hashing.SHA256Text(result.Text),
		PromptLenChars: utf8.RuneCountInString(prompt.Text),
		OutputLenChars: utf8.RuneCountInString(result.Text),
		OutputText:     result.Text,
	}
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}
