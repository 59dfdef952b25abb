// internal/tracesink/sink.go
// Package tracesink persists trace records as append-only JSON Lines.
package tracesink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mwiater/qosflow/internal/schema"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("trace sink is closed")

// TracePath returns <outputDir>/traces/run_id=<runID>/trace.jsonl.
func TracePath(outputDir, runID string) string {
	return filepath.Join(outputDir, "traces", "run_id="+runID, "trace.jsonl")
}

// Sink appends one validated record per line and syncs after every write.
type Sink struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	count int
}

// Open creates parent directories and opens path for appending.
func Open(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("error creating trace directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening trace file: %w", err)
	}
	return &Sink{file: file, path: path}, nil
}

// Path returns the trace file location.
func (s *Sink) Path() string { return s.path }

// Count returns the number of records appended through this sink.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Append validates r and durably writes it as one line.
func (s *Sink) Append(r schema.TraceRecord) error {
	data, err := schema.MarshalRecord(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("error writing trace record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("error syncing trace file: %w", err)
	}
	s.count++
	return nil
}

// Close closes the underlying file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
