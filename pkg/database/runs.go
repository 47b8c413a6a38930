package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RunStatus is the lifecycle of a persisted research run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

var ErrRunNotFound = errors.New("research run not found")

// Run is a row of research_runs.
type Run struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Status    RunStatus       `json:"status"`
	Params    json.RawMessage `json:"params,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Report    *string         `json:"report,omitempty"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LogEntry is a row of research_logs.
type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// RunRepository persists research runs and their logs.
type RunRepository struct {
	db *PostgresDB
}

func NewRunRepository(db *PostgresDB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = "id, topic, status, params, state, report, error, created_at, updated_at"

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.Topic, &r.Status, &r.Params, &r.State, &r.Report, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun inserts a pending run. params is stored as JSON.
func (r *RunRepository) CreateRun(ctx context.Context, topic string, params any) (*Run, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run params: %w", err)
	}

	query := `
		INSERT INTO research_runs (id, topic, status, params)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + runColumns
	run, err := scanRun(r.db.Pool.QueryRow(ctx, query, uuid.New(), topic, StatusPending, paramsJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM research_runs WHERE id = $1`
	run, err := scanRun(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM research_runs ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// MarkRunning moves a pending run to running.
func (r *RunRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "mark run running",
		"UPDATE research_runs SET status = $2, updated_at = NOW() WHERE id = $1", id, StatusRunning)
}

// SaveState stores the latest state snapshot of a run.
func (r *RunRepository) SaveState(ctx context.Context, id uuid.UUID, state any) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return r.exec(ctx, "save state",
		"UPDATE research_runs SET state = $2, updated_at = NOW() WHERE id = $1", id, stateJSON)
}

func (r *RunRepository) CompleteRun(ctx context.Context, id uuid.UUID, report string) error {
	return r.exec(ctx, "complete run",
		"UPDATE research_runs SET status = $2, report = $3, updated_at = NOW() WHERE id = $1",
		id, StatusCompleted, report)
}

func (r *RunRepository) FailRun(ctx context.Context, id uuid.UUID, reason string) error {
	return r.exec(ctx, "fail run",
		"UPDATE research_runs SET status = $2, error = $3, updated_at = NOW() WHERE id = $1",
		id, StatusFailed, reason)
}

func (r *RunRepository) AppendLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error {
	query := `
		INSERT INTO research_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.Pool.Exec(ctx, query, runID, ts, level, message, metadata); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// ListLogs returns a run's log entries in insertion order.
func (r *RunRepository) ListLogs(ctx context.Context, runID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *RunRepository) exec(ctx context.Context, what, query string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}
