package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL for the service. Statements are idempotent so
// EnsureSchema can run on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	task_type         TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	input_text        TEXT NOT NULL,
	input_fingerprint TEXT NOT NULL,
	parameters        JSONB NOT NULL DEFAULT '{}',
	result            JSONB,
	error             TEXT,
	from_cache        BOOLEAN NOT NULL DEFAULT FALSE,
	batch_job_id      TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	processing_time   DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_tasks_fingerprint ON tasks (input_fingerprint);
CREATE INDEX IF NOT EXISTS idx_tasks_batch_job ON tasks (batch_job_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);

CREATE TABLE IF NOT EXISTS batch_jobs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'pending',
	total_tasks     INTEGER NOT NULL,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	failed_tasks    INTEGER NOT NULL DEFAULT 0,
	results         JSONB,
	error           TEXT,
	webhook_id      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	processing_time DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS webhooks (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	events         JSONB NOT NULL DEFAULT '[]',
	description    TEXT,
	secret         TEXT NOT NULL,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	failure_count  INTEGER NOT NULL DEFAULT 0,
	last_triggered TIMESTAMPTZ,
	last_status    INTEGER,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS work_queue (
	id         TEXT PRIMARY KEY,
	operation  TEXT NOT NULL,
	record_id  TEXT NOT NULL,
	payload    JSONB,
	status     TEXT NOT NULL DEFAULT 'pending',
	worker_id  TEXT,
	attempts   INTEGER NOT NULL DEFAULT 0,
	claimed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_work_queue_claim ON work_queue (status, operation, created_at);
`

// EnsureSchema creates missing tables and indexes
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
