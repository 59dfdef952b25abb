// internal/schema/jsonschema.go
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	nullableInt    = map[string]any{"type": []string{"integer", "null"}}
	nullableNumber = map[string]any{"type": []string{"number", "null"}, "minimum": 0}
	hexDigest      = map[string]any{"type": "string", "pattern": "^[0-9a-f]{64}$"}
)

// TraceRecordSchema is the JSON Schema every serialized TraceRecord must satisfy.
var TraceRecordSchema = map[string]any{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title":   "TraceRecord",
	"type":    "object",
	"required": []string{
		"version", "request_id", "run_id", "prompt_id", "repeat_idx",
		"ts_start_ns", "ts_end_ns", "total_ms", "params", "server", "system",
		"prompt_hash", "output_hash", "prompt_len_chars", "output_len_chars", "output_text",
	},
	"additionalProperties": false,
	"properties": map[string]any{
		"version":     map[string]any{"const": TraceVersion},
		"request_id":  map[string]any{"type": "string", "minLength": 1},
		"run_id":      map[string]any{"type": "string", "minLength": 1},
		"prompt_id":   map[string]any{"type": "string", "minLength": 1},
		"repeat_idx":  map[string]any{"type": "integer", "minimum": 0},
		"ts_start_ns": map[string]any{"type": "integer"},
		"ts_end_ns":   map[string]any{"type": "integer"},
		"total_ms":    map[string]any{"type": "number", "minimum": 0},
		"params": map[string]any{
			"type":                 "object",
			"required":             []string{"temperature", "top_p", "seed", "max_new_tokens"},
			"additionalProperties": false,
			"properties": map[string]any{
				"temperature":    map[string]any{"type": "number", "minimum": 0},
				"top_p":          map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				"seed":           map[string]any{"type": "integer"},
				"max_new_tokens": map[string]any{"type": "integer", "minimum": 1},
			},
		},
		"server": map[string]any{
			"type":                 "object",
			"required":             []string{"model", "dtype", "batching_knobs"},
			"additionalProperties": false,
			"properties": map[string]any{
				"model": map[string]any{"type": "string"},
				"dtype": map[string]any{"type": "string"},
				"batching_knobs": map[string]any{
					"type":     "object",
					"required": []string{"max_num_seqs", "max_num_batched_tokens", "scheduler_delay_ms"},
					"properties": map[string]any{
						"max_num_seqs":           map[string]any{"type": "integer"},
						"max_num_batched_tokens": map[string]any{"type": "integer"},
						"scheduler_delay_ms":     map[string]any{"type": "integer"},
					},
				},
			},
		},
		"system": map[string]any{
			"type":                 "object",
			"required":             []string{"http_status", "attempts"},
			"additionalProperties": false,
			"properties": map[string]any{
				"http_status": map[string]any{"type": "integer", "minimum": 0},
				"error":       map[string]any{"type": []string{"string", "null"}},
				"attempts":    map[string]any{"type": "integer", "minimum": 1},
				"batch_size":  nullableInt,
				"queue_ms":    nullableNumber,
				"prefill_ms":  nullableNumber,
				"decode_ms":   nullableNumber,
			},
		},
		"prompt_hash":      hexDigest,
		"output_hash":      hexDigest,
		"prompt_len_chars": map[string]any{"type": "integer", "minimum": 0},
		"output_len_chars": map[string]any{"type": "integer", "minimum": 0},
		"output_text":      map[string]any{"type": "string"},
	},
}

var (
	compileOnce    sync.Once
	compiledSchema *gojsonschema.Schema
	compileErr     error
)

func traceSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(TraceRecordSchema))
	})
	return compiledSchema, compileErr
}

// ValidateJSON checks a serialized trace record against TraceRecordSchema.
func ValidateJSON(raw []byte) error {
	s, err := traceSchema()
	if err != nil {
		return fmt.Errorf("compile trace schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return fmt.Errorf("trace record failed schema validation: %s", strings.Join(errs, ", "))
}

// MarshalRecord validates r and returns its compact JSON encoding.
func MarshalRecord(r TraceRecord) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal trace record: %w", err)
	}
	if err := ValidateJSON(data); err != nil {
		return nil, err
	}
	return data, nil
}

// UnmarshalRecord decodes one trace line, validating both the schema and the
// record invariants.
func UnmarshalRecord(raw []byte) (TraceRecord, error) {
	if err := ValidateJSON(raw); err != nil {
		return TraceRecord{}, err
	}
	var r TraceRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return TraceRecord{}, fmt.Errorf("decode trace record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return TraceRecord{}, err
	}
	return r, nil
}
