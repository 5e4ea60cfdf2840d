// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"axonflow/taskrouter/router"
)

// Recorder persists execution attempts and task results to PostgreSQL.
// Write errors are logged by the coordinator and never fail a task, so
// the router keeps working through database outages.
type Recorder struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(databaseURL string) (*Recorder, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Recorder{db: db}, nil
}

// NewRecorder wraps an existing database handle. Used by tests.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// EnsureSchema creates the recording tables when they do not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS task_attempts (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			platform_id TEXT NOT NULL,
			attempt_index INT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			latency_ms BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create task_attempts table: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS task_results (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			platform_id TEXT,
			cost_cents INT NOT NULL,
			quality REAL NOT NULL,
			synthetic BOOLEAN NOT NULL,
			handoffs INT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create task_results table: %w", err)
	}
	return nil
}

// RecordAttempt records one platform attempt.
func (r *Recorder) RecordAttempt(ctx context.Context, attempt router.ExecutionAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_attempts (
			task_id, platform_id, attempt_index, outcome, error,
			started_at, ended_at, latency_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, attempt.TaskID, attempt.PlatformID, attempt.Index, string(attempt.Outcome),
		nullString(attempt.Error), attempt.StartedAt, attempt.EndedAt,
		attempt.EndedAt.Sub(attempt.StartedAt).Milliseconds())

	if err != nil {
		log.Printf("[STORAGE] Failed to record attempt: %v", err)
	}
	return err
}

// RecordTask records a completed task result. Cost is stored in integer
// cents to avoid floating point drift in aggregation queries.
func (r *Recorder) RecordTask(ctx context.Context, result router.TaskResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_results (
			task_id, platform_id, cost_cents, quality, synthetic, handoffs
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, result.TaskID, nullString(result.PlatformID), int(result.Cost*100),
		result.Quality, result.Synthetic, result.Handoffs)

	if err != nil {
		log.Printf("[STORAGE] Failed to record task result: %v", err)
	}
	return err
}

// PlatformSpend sums recorded spend per platform since the cutoff.
func (r *Recorder) PlatformSpend(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT platform_id, COALESCE(SUM(cost_cents), 0)
		FROM task_results
		WHERE recorded_at >= $1 AND platform_id IS NOT NULL
		GROUP BY platform_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query platform spend: %w", err)
	}
	defer func() { _ = rows.Close() }()

	spend := make(map[string]int)
	for rows.Next() {
		var platformID string
		var cents int
		if err := rows.Scan(&platformID, &cents); err != nil {
			return nil, fmt.Errorf("failed to scan spend row: %w", err)
		}
		spend[platformID] = cents
	}
	return spend, rows.Err()
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
