// Package store keeps run history in SQLite: one row per run plus one row
// per finished stage. It backs the engine's Recorder seam.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/engine"
)

// Status values written to the runs and stage_runs tables.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ErrRunNotFound is returned by Run when no row exists for the id.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	pipeline TEXT NOT NULL,
	status TEXT NOT NULL,
	items INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS stage_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	transformer TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	duration_ms INTEGER NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stage_runs_run_id ON stage_runs(run_id);
`

// DB is a SQLite-backed run history store. It implements engine.Recorder.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the SQLite database at path, creating it and its schema when
// missing. Use ":memory:" for an ephemeral store.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run store %s: %w", path, err)
	}
	// SQLite permits a single writer; a larger pool only converts writes
	// into lock errors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create run store schema: %w", err)
	}
	return &DB{db: db, logger: slog.Default()}, nil
}

// WithLogger overrides the store's logger. Chainable.
func (d *DB) WithLogger(logger *slog.Logger) *DB {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// Close releases the underlying database handle.
func (d *DB) Close() error { return d.db.Close() }

// RunStarted inserts a new run row in the running state.
func (d *DB) RunStarted(ctx context.Context, pipeline, runID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, pipeline, StatusRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record run start %s: %w", runID, err)
	}
	return nil
}

// StageFinished appends one stage outcome row for the run.
func (d *DB) StageFinished(ctx context.Context, runID string, res engine.StageResult) error {
	status := StatusSucceeded
	var errText sql.NullString
	switch {
	case res.Skipped:
		status = StatusSkipped
	case !res.Success:
		status = StatusFailed
		if res.Err != nil {
			errText = sql.NullString{String: res.Err.Error(), Valid: true}
		}
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO stage_runs (run_id, transformer, stage, status, error, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Transformer, res.Name, status, errText, res.Duration.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record stage %s/%s: %w", res.Transformer, res.Name, err)
	}
	return nil
}

// RunFinished closes out the run row with its final status and counts.
func (d *DB) RunFinished(ctx context.Context, runID string, res *engine.PipelineResult) error {
	status := StatusSucceeded
	if !res.Success {
		status = StatusFailed
	}
	var items, errCount int64
	if res.Context != nil {
		items = res.Context.ItemsProcessed()
		errCount = int64(len(res.Context.Errors()))
	}

	out, err := d.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, items = ?, error_count = ?, finished_at = ? WHERE id = ?`,
		status, items, errCount, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("record run finish %s: %w", runID, err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record run finish %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// RunRecord is one row of the runs table. FinishedAt is zero while the run
// is still marked running.
type RunRecord struct {
	ID         string
	Pipeline   string
	Status     string
	Items      int64
	ErrorCount int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// StageRecord is one row of the stage_runs table.
type StageRecord struct {
	RunID       string
	Transformer string
	Stage       string
	Status      string
	Error       string
	Duration    time.Duration
	FinishedAt  time.Time
}

// Run fetches a single run row by id.
func (d *DB) Run(ctx context.Context, runID string) (RunRecord, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, pipeline, status, items, error_count, started_at, finished_at
		 FROM runs WHERE id = ?`, runID)

	rec, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("fetch run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns every recorded run, most recently started first.
func (d *DB) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, pipeline, status, items, error_count, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return recs, nil
}

// StageHistory returns the run's stage rows in the order they finished.
func (d *DB) StageHistory(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT run_id, transformer, stage, status, error, duration_ms, finished_at
		 FROM stage_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("stage history %s: %w", runID, err)
	}
	defer rows.Close()

	var recs []StageRecord
	for rows.Next() {
		var rec StageRecord
		var errText sql.NullString
		var durationMS int64
		if err := rows.Scan(&rec.RunID, &rec.Transformer, &rec.Stage, &rec.Status,
			&errText, &durationMS, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("stage history %s: %w", runID, err)
		}
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stage history %s: %w", runID, err)
	}
	return recs, nil
}

func scanRun(scan func(dest ...any) error) (RunRecord, error) {
	var rec RunRecord
	var finished sql.NullTime
	if err := scan(&rec.ID, &rec.Pipeline, &rec.Status, &rec.Items,
		&rec.ErrorCount, &rec.StartedAt, &finished); err != nil {
		return RunRecord{}, err
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return rec, nil
}
