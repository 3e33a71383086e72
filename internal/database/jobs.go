package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobStore persists BatchJob records
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `id, status, total_tasks, completed_tasks, failed_tasks, results, error,
	webhook_id, created_at, updated_at, completed_at, processing_time`

func scanJob(row pgx.Row) (*BatchJob, error) {
	var j BatchJob
	err := row.Scan(
		&j.ID, &j.Status, &j.TotalTasks, &j.CompletedTasks, &j.FailedTasks, &j.Results,
		&j.Error, &j.WebhookID, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt, &j.ProcessingTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan batch job: %w", err)
	}
	return &j, nil
}

// Create inserts a new pending batch job
func (s *JobStore) Create(ctx context.Context, totalTasks int, webhookID *string) (*BatchJob, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO batch_jobs (id, status, total_tasks, webhook_id)
		VALUES ($1, 'pending', $2, $3)
		RETURNING `+jobColumns+`
	`, id, totalTasks, webhookID)
	return scanJob(row)
}

// Get returns the batch job with the given id
func (s *JobStore) Get(ctx context.Context, id string) (*BatchJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// MarkProcessing transitions a pending job to processing
func (s *JobStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batch_jobs SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark job processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete records the aggregated outcome of a job
func (s *JobStore) Complete(ctx context.Context, id string, completed, failed int, results json.RawMessage, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batch_jobs
		SET status = 'completed', completed_tasks = $2, failed_tasks = $3, results = $4,
			updated_at = NOW(), completed_at = $5,
			processing_time = EXTRACT(EPOCH FROM ($5 - created_at))
		WHERE id = $1 AND status = 'processing'
	`, id, completed, failed, results, completedAt)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a coordination-level job failure
func (s *JobStore) Fail(ctx context.Context, id string, errMsg string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batch_jobs
		SET status = 'failed', error = $2, updated_at = NOW(), completed_at = $3,
			processing_time = EXTRACT(EPOCH FROM ($3 - created_at))
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel transitions a pending or processing job to cancelled. Returns
// false if the job was already terminal.
func (s *JobStore) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batch_jobs SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
