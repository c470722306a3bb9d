// Package db holds schema management for the orchestrator's Postgres
// store.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables and indexes if they do not exist. The
// DDL is idempotent; it runs at every process start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
CREATE TABLE IF NOT EXISTS prompts (
    id          TEXT PRIMARY KEY,
    text        TEXT NOT NULL,
    inputs      JSONB,
    parameters  JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
    id               TEXT PRIMARY KEY,
    prompt_id        TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
    model_type       TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'pending',
    execution_config JSONB,
    outputs          JSONB,
    metadata         JSONB,
    log_path         TEXT NOT NULL DEFAULT '',
    error_message    TEXT NOT NULL DEFAULT '',
    rating           INT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_prompt_id ON runs(prompt_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS job_queue (
    id           TEXT PRIMARY KEY,
    prompt_ids   JSONB NOT NULL DEFAULT '[]',
    job_type     TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'queued',
    config       JSONB,
    priority     INT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    result       JSONB
);

CREATE INDEX IF NOT EXISTS idx_job_queue_status_created ON job_queue(status, created_at);
`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}
