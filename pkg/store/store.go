// Package store persists finished runs in SQLite so they can be listed and
// inspected after the process exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/harun/stepflow/pkg/planner"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// RunRecord is the persisted form of a planner.Result. Outputs are kept as
// raw JSON so records of any output type share one schema.
type RunRecord struct {
	RunID       string            `json:"run_id"`
	PlanID      string            `json:"plan_id"`
	Description string            `json:"description"`
	Status      planner.RunStatus `json:"status"`
	Success     bool              `json:"success"`
	Reason      string            `json:"reason,omitempty"`
	Rounds      int               `json:"rounds"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Steps       []StepRecord      `json:"steps"`
}

// StepRecord is one step of a persisted run.
type StepRecord struct {
	StepID      string             `json:"step_id"`
	Status      planner.StepStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	Error       string             `json:"error,omitempty"`
	Output      json.RawMessage    `json:"output,omitempty"`
	StartedAt   time.Time          `json:"started_at,omitempty"`
	CompletedAt time.Time          `json:"completed_at,omitempty"`
}

// Duration returns the wall time of the run.
func (r *RunRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// NewRunRecord converts a run result into a record. Steps follow plan order
// when the plan is given, otherwise they are sorted by ID.
func NewRunRecord[T any](plan *planner.Plan, res *planner.Result[T]) (*RunRecord, error) {
	if res == nil {
		return nil, errors.New("result is nil")
	}

	rec := &RunRecord{
		RunID:       res.RunID,
		PlanID:      res.PlanID,
		Status:      res.Status,
		Success:     res.Success,
		Reason:      res.Reason,
		Rounds:      res.Rounds,
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
	}
	if plan != nil {
		rec.Description = plan.Description
	}

	var ids []string
	if plan != nil {
		for _, step := range plan.Steps {
			ids = append(ids, step.ID)
		}
	} else {
		for id := range res.Steps {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	for _, id := range ids {
		st, ok := res.Steps[id]
		if !ok {
			continue
		}
		step := StepRecord{
			StepID:      id,
			Status:      st.Status,
			Attempts:    st.Attempts,
			Error:       st.Error,
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
		}
		if st.Status == planner.StepStatusSucceeded {
			raw, err := json.Marshal(st.Output)
			if err != nil {
				return nil, fmt.Errorf("failed to encode output of step %s: %w", id, err)
			}
			step.Output = raw
		}
		rec.Steps = append(rec.Steps, step)
	}

	return rec, nil
}

// Store is a SQLite-backed run history.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		success INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		rounds INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_steps (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		step_id TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		output TEXT,
		started_at INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, step_id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a record, replacing any earlier record with the same run ID.
func (s *Store) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("record must have a run ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", rec.RunID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, plan_id, description, status, success, reason, rounds, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.PlanID, rec.Description, string(rec.Status), rec.Success, rec.Reason, rec.Rounds,
		unixNano(rec.StartedAt), unixNano(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_steps (run_id, position, step_id, status, attempts, error, output, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare step insert: %w", err)
	}
	defer stmt.Close()

	for i, step := range rec.Steps {
		var output any
		if len(step.Output) > 0 {
			output = string(step.Output)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.RunID, i, step.StepID, string(step.Status), step.Attempts, step.Error, output,
			unixNano(step.StartedAt), unixNano(step.CompletedAt),
		); err != nil {
			return fmt.Errorf("failed to insert step %s: %w", step.StepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug().
		Str("run_id", rec.RunID).
		Int("steps", len(rec.Steps)).
		Msg("Run saved")
	return nil
}

// Get loads one run with its steps.
func (s *Store) Get(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, plan_id, description, status, success, reason, rounds, started_at, completed_at
		FROM runs WHERE run_id = ?`, runID)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, status, attempts, error, output, started_at, completed_at
		FROM run_steps WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step               StepRecord
			status             string
			output             sql.NullString
			started, completed int64
		)
		if err := rows.Scan(&step.StepID, &status, &step.Attempts, &step.Error, &output, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Status = planner.StepStatus(status)
		if output.Valid {
			step.Output = json.RawMessage(output.String)
		}
		step.StartedAt = fromUnixNano(started)
		step.CompletedAt = fromUnixNano(completed)
		rec.Steps = append(rec.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}

	return rec, nil
}

// List returns the most recent runs first, without their steps. A limit
// <= 0 returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `
		SELECT run_id, plan_id, description, status, success, reason, rounds, started_at, completed_at
		FROM runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		rec                RunRecord
		status             string
		started, completed int64
	)
	if err := sc.Scan(&rec.RunID, &rec.PlanID, &rec.Description, &status, &rec.Success, &rec.Reason,
		&rec.Rounds, &started, &completed); err != nil {
		return nil, err
	}
	rec.Status = planner.RunStatus(status)
	rec.StartedAt = fromUnixNano(started)
	rec.CompletedAt = fromUnixNano(completed)
	return &rec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
