// internal/schema/types.go
// Package schema defines the prompt and trace record types shared by the load
// engine, the trace sink and the analysis pipeline.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// TraceVersion is written into every TraceRecord.
const TraceVersion = "v1"

// LengthBucket classifies prompts by character length.
type LengthBucket string

const (
	BucketShort LengthBucket = "short"
	BucketMed   LengthBucket = "med"
	BucketLong  LengthBucket = "long"
)

// Buckets lists the length buckets in sampling order.
var Buckets = []LengthBucket{BucketShort, BucketMed, BucketLong}

// Valid reports whether b is one of the known buckets.
func (b LengthBucket) Valid() bool {
	switch b {
	case BucketShort, BucketMed, BucketLong:
		return true
	}
	return false
}

// PromptInput is a single prompt eligible for load generation.
type PromptInput struct {
	PromptID     string       `json:"prompt_id"`
	Text         string       `json:"text"`
	Tags         []string     `json:"tags,omitempty"`
	Expected     *string      `json:"expected,omitempty"`
	LengthBucket LengthBucket `json:"length_bucket,omitempty"`
}

// Validate checks the prompt's required fields.
func (p PromptInput) Validate() error {
	if strings.TrimSpace(p.PromptID) == "" {
		return errors.New("prompt_id is required")
	}
	if p.LengthBucket != "" && !p.LengthBucket.Valid() {
		return fmt.Errorf("prompt %s: unknown length bucket %q", p.PromptID, p.LengthBucket)
	}
	return nil
}

// TraceParams are the sampling parameters sent with a request.
type TraceParams struct {
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	Seed         int64   `json:"seed"`
	MaxNewTokens int     `json:"max_new_tokens"`
}

// BatchingKnobs snapshot the target's batching configuration.
type BatchingKnobs struct {
	MaxNumSeqs          int `json:"max_num_seqs"`
	MaxNumBatchedTokens int `json:"max_num_batched_tokens"`
	SchedulerDelayMS    int `json:"scheduler_delay_ms"`
}

// TraceServer snapshots the target configuration at request time.
type TraceServer struct {
	Model         string        `json:"model"`
	Dtype         string        `json:"dtype"`
	BatchingKnobs BatchingKnobs `json:"batching_knobs"`
}

// TraceSystem carries the transport outcome of an attempt sequence.
type TraceSystem struct {
	HTTPStatus int      `json:"http_status"`
	Error      *string  `json:"error"`
	Attempts   int      `json:"attempts"`
	BatchSize  *int     `json:"batch_size"`
	QueueMS    *float64 `json:"queue_ms"`
	PrefillMS  *float64 `json:"prefill_ms"`
	DecodeMS   *float64 `json:"decode_ms"`
}

// Failed reports whether the request ended in an error outcome.
func (s TraceSystem) Failed() bool {
	return s.Error != nil
}

// TraceRecord is the durable record of one request's full attempt sequence.
type TraceRecord struct {
	Version        string      `json:"version"`
	RequestID      string      `json:"request_id"`
	RunID          string      `json:"run_id"`
	PromptID       string      `json:"prompt_id"`
	RepeatIdx      int         `json:"repeat_idx"`
	TsStartNS      int64       `json:"ts_start_ns"`
	TsEndNS        int64       `json:"ts_end_ns"`
	TotalMS        float64     `json:"total_ms"`
	Params         TraceParams `json:"params"`
	Server         TraceServer `json:"server"`
	System         TraceSystem `json:"system"`
	PromptHash     string      `json:"prompt_hash"`
	OutputHash     string      `json:"output_hash"`
	PromptLenChars int         `json:"prompt_len_chars"`
	OutputLenChars int         `json:"output_len_chars"`
	OutputText     string      `json:"output_text"`
}

// Validate enforces the record invariants that the JSON schema cannot express.
func (r TraceRecord) Validate() error {
	if r.Version != TraceVersion {
		return fmt.Errorf("trace record: unsupported version %q", r.Version)
	}
	if r.RequestID == "" || r.RunID == "" || r.PromptID == "" {
		return errors.New("trace record: request_id, run_id and prompt_id are required")
	}
	if r.TsEndNS < r.TsStartNS {
		return fmt.Errorf("trace record %s: ts_end_ns %d before ts_start_ns %d", r.RequestID, r.TsEndNS, r.TsStartNS)
	}
	if r.TotalMS < 0 {
		return fmt.Errorf("trace record %s: negative total_ms %f", r.RequestID, r.TotalMS)
	}
	if r.RepeatIdx < 0 {
		return fmt.Errorf("trace record %s: negative repeat_idx %d", r.RequestID, r.RepeatIdx)
	}
	return nil
}
