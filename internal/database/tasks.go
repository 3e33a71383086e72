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

	"github.com/nlpgrid/nlp-service/internal/nlp"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// TaskStore persists Task records. Status transitions are guarded in SQL
// so a task never leaves a terminal state.
type TaskStore struct {
	pool *pgxpool.Pool
}

func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

const taskColumns = `id, task_type, status, input_text, input_fingerprint, parameters,
	result, error, from_cache, batch_job_id, created_at, updated_at, completed_at, processing_time`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.Kind, &t.Status, &t.InputText, &t.InputFingerprint, &t.Parameters,
		&t.Result, &t.Error, &t.FromCache, &t.BatchJobID, &t.CreatedAt, &t.UpdatedAt,
		&t.CompletedAt, &t.ProcessingTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return &t, nil
}

// CreateTaskInput holds the fields required to create a task row
type CreateTaskInput struct {
	Kind        nlp.Kind
	InputText   string
	Fingerprint string
	Parameters  json.RawMessage
	BatchJobID  *string
}

// Create inserts a new pending task and returns it
func (s *TaskStore) Create(ctx context.Context, input CreateTaskInput) (*Task, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, task_type, status, input_text, input_fingerprint, parameters, batch_job_id)
		VALUES ($1, $2, 'pending', $3, $4, $5, $6)
		RETURNING `+taskColumns+`
	`, id, input.Kind, input.InputText, input.Fingerprint, input.Parameters, input.BatchJobID)
	return scanTask(row)
}

// CreateCompleted inserts an already-completed audit row for a cache hit
func (s *TaskStore) CreateCompleted(ctx context.Context, input CreateTaskInput, result json.RawMessage) (*Task, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, task_type, status, input_text, input_fingerprint, parameters,
			result, from_cache, batch_job_id, completed_at, processing_time)
		VALUES ($1, $2, 'completed', $3, $4, $5, $6, TRUE, $7, NOW(), 0)
		RETURNING `+taskColumns+`
	`, id, input.Kind, input.InputText, input.Fingerprint, input.Parameters, result, input.BatchJobID)
	return scanTask(row)
}

// Get returns the task with the given id
func (s *TaskStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// ListByJob returns every task belonging to a batch job
func (s *TaskStore) ListByJob(ctx context.Context, jobID string) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE batch_job_id = $1 ORDER BY created_at
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for job %s: %w", jobID, err)
	}
	defer rows.Close()

	tasks := make([]*Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkProcessing transitions a pending task to processing. Returns false
// if the task was not pending.
func (s *TaskStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark task processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete records a successful result and the derived processing time
func (s *TaskStore) Complete(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'completed', result = $2, error = NULL, updated_at = NOW(),
			completed_at = $3, processing_time = EXTRACT(EPOCH FROM ($3 - created_at))
		WHERE id = $1 AND status = 'processing'
	`, id, result, completedAt)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a task failure
func (s *TaskStore) Fail(ctx context.Context, id string, errMsg string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'failed', error = $2, result = NULL, updated_at = NOW(),
			completed_at = $3, processing_time = EXTRACT(EPOCH FROM ($3 - created_at))
		WHERE id = $1 AND status = 'processing'
	`, id, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel transitions a pending task to cancelled. Returns false if the
// task was already processing or terminal.
func (s *TaskStore) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelPendingByJob cancels every pending child of a job and returns the
// number of tasks affected
func (s *TaskStore) CancelPendingByJob(ctx context.Context, jobID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'cancelled', updated_at = NOW()
		WHERE batch_job_id = $1 AND status = 'pending'
	`, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending tasks for job %s: %w", jobID, err)
	}
	return int(tag.RowsAffected()), nil
}
