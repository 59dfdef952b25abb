// internal/catalog/store.go
// Package catalog keeps a SQLite index of load runs and their metrics rows.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mwiater/qosflow/internal/metrics"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	experiment    TEXT NOT NULL,
	arrival_rate  REAL NOT NULL,
	trace_path    TEXT NOT NULL,
	sent          INTEGER NOT NULL,
	success       INTEGER NOT NULL,
	failed        INTEGER NOT NULL,
	p50_total_ms  REAL NOT NULL,
	p95_total_ms  REAL NOT NULL,
	recorded_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics_rows (
	experiment    TEXT NOT NULL,
	arrival_rate  REAL NOT NULL,
	source        TEXT NOT NULL,
	row_json      TEXT NOT NULL,
	recorded_at   TEXT NOT NULL,
	PRIMARY KEY (experiment, arrival_rate)
);`

// RunEntry is the catalog view of one finished load run.
type RunEntry struct {
	RunID       string
	Experiment  string
	ArrivalRate float64
	TracePath   string
	Sent        int
	Success     int
	Failed      int
	P50TotalMS  float64
	P95TotalMS  float64
}

// Store is a SQLite-backed catalog. Writes are serialized.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open creates or opens the catalog database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun upserts a run entry.
func (s *Store) RecordRun(ctx context.Context, e RunEntry) error {
	if e.RunID == "" {
		return errors.New("catalog: run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (run_id, experiment, arrival_rate, trace_path, sent, success, failed, p50_total_ms, p95_total_ms, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	experiment = excluded.experiment,
	arrival_rate = excluded.arrival_rate,
	trace_path = excluded.trace_path,
	sent = excluded.sent,
	success = excluded.success,
	failed = excluded.failed,
	p50_total_ms = excluded.p50_total_ms,
	p95_total_ms = excluded.p95_total_ms,
	recorded_at = excluded.recorded_at`,
		e.RunID, e.Experiment, e.ArrivalRate, e.TracePath, e.Sent, e.Success, e.Failed,
		e.P50TotalMS, e.P95TotalMS, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record run %s: %w", e.RunID, err)
	}
	return nil
}

// Runs lists the runs of experiment ordered by arrival rate.
func (s *Store) Runs(ctx context.Context, experiment string) ([]RunEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, experiment, arrival_rate, trace_path, sent, success, failed, p50_total_ms, p95_total_ms
FROM runs WHERE experiment = ? ORDER BY arrival_rate, run_id`, experiment)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		if err := rows.Scan(&e.RunID, &e.Experiment, &e.ArrivalRate, &e.TracePath, &e.Sent, &e.Success, &e.Failed, &e.P50TotalMS, &e.P95TotalMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordMetrics stores row for experiment. The row must carry an arrival
// rate; a later row for the same rate replaces the earlier one.
func (s *Store) RecordMetrics(ctx context.Context, experiment, source string, row metrics.MetricsRow) error {
	if row.ArrivalRateRPS == nil {
		return errors.New("catalog: metrics row has no arrival rate")
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode metrics row: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO metrics_rows (experiment, arrival_rate, source, row_json, recorded_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(experiment, arrival_rate) DO UPDATE SET
	source = excluded.source,
	row_json = excluded.row_json,
	recorded_at = excluded.recorded_at`,
		experiment, *row.ArrivalRateRPS, source, string(data), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record metrics for %s at %g rps: %w", experiment, *row.ArrivalRateRPS, err)
	}
	return nil
}

// MetricsTable returns the stored rows of experiment ordered by arrival
// rate. An empty experiment selects every row.
func (s *Store) MetricsTable(ctx context.Context, experiment string) ([]metrics.MetricsRow, error) {
	query := `SELECT row_json FROM metrics_rows WHERE experiment = ? ORDER BY arrival_rate`
	args := []any{experiment}
	if experiment == "" {
		query = `SELECT row_json FROM metrics_rows ORDER BY arrival_rate`
		args = nil
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics rows: %w", err)
	}
	defer rows.Close()

	var out []metrics.MetricsRow
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		var m metrics.MetricsRow
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode metrics row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
