package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// History records terminal jobs to Postgres for audit purposes. It is
// write-only: nothing in this service reads active job state back out of
// it, so a history outage can never block a request in flight. A nil
// *History (returned when DatabaseURL is unset) makes every method a
// no-op.
type History struct {
	conn *sql.DB
}

// NewHistory opens a connection to the audit database. Returns (nil,
// nil) when cfg.DatabaseURL is empty.
func NewHistory(cfg HistoryConfig) (*History, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := ensureHistorySchema(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to ensure history schema: %w", err)
	}

	slog.Info("history database connected successfully")
	return &History{conn: db}, nil
}

func ensureHistorySchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS job_history (
			job_id          TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			buildings_found INTEGER NOT NULL,
			execution_time  DOUBLE PRECISION NOT NULL,
			error_message   TEXT,
			finished_at     TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

// Close closes the underlying connection pool.
func (h *History) Close() error {
	if h == nil {
		return nil
	}
	return h.conn.Close()
}

// RecordTerminal writes one row for a job that has just reached a
// terminal state (completed, failed, or cancelled). A nil receiver is a
// no-op.
func (h *History) RecordTerminal(ctx context.Context, job *Job) error {
	if h == nil {
		return nil
	}

	_, err := h.conn.ExecContext(ctx, `
		INSERT INTO job_history (job_id, status, buildings_found, execution_time, error_message, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			buildings_found = EXCLUDED.buildings_found,
			execution_time = EXCLUDED.execution_time,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at
	`,
		job.JobID, job.Status, job.BuildingsFound, job.ExecutionTime, nullableString(job.ErrorMessage), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("recording job history: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
