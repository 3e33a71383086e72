// Package queue is a Postgres-backed work queue for deferred execution
// of task, batch and webhook operations.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Operations workers know how to execute
const (
	OpProcessTask  = "process_task"
	OpProcessBatch = "process_batch"
	OpSendWebhook  = "send_webhook"
)

// Item statuses
const (
	StatusPending   = "pending"
	StatusClaimed   = "claimed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Item is one unit of deferred work. RecordID points at the task, batch
// job or webhook the operation targets; Payload carries extra arguments.
type Item struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	RecordID  string          `json:"record_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"`
	WorkerID  *string         `json:"worker_id,omitempty"`
	Attempts  int             `json:"attempts"`
	ClaimedAt *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Queue struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

func New(pool *pgxpool.Pool, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Queue{pool: pool, maxAttempts: maxAttempts}
}

// Enqueue inserts a pending item and returns its id
func (q *Queue) Enqueue(ctx context.Context, operation, recordID string, payload any) (string, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to encode queue payload: %w", err)
		}
	}

	id := uuid.NewString()
	_, err := q.pool.Exec(ctx, `
		INSERT INTO work_queue (id, operation, record_id, payload)
		VALUES ($1, $2, $3, $4)
	`, id, operation, recordID, encoded)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", operation, err)
	}
	return id, nil
}

// Claim atomically assigns up to max pending items to the worker.
// SKIP LOCKED keeps concurrent workers from contending on the same rows.
func (q *Queue) Claim(ctx context.Context, workerID string, operations []string, max int) ([]Item, error) {
	rows, err := q.pool.Query(ctx, `
		UPDATE work_queue
		SET status = 'claimed', worker_id = $1, attempts = attempts + 1,
			claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM work_queue
			WHERE status = 'pending' AND operation = ANY($2)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, operation, record_id, payload, status, worker_id, attempts,
			claimed_at, created_at, updated_at
	`, workerID, operations, max)
	if err != nil {
		return nil, fmt.Errorf("failed to claim work: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(
			&item.ID, &item.Operation, &item.RecordID, &item.Payload, &item.Status,
			&item.WorkerID, &item.Attempts, &item.ClaimedAt, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claimed item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Complete marks a claimed item as done
func (q *Queue) Complete(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE work_queue SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to complete queue item: %w", err)
	}
	return nil
}

// Fail records a handler failure. Items with attempts left go back to
// pending; exhausted items stay failed.
func (q *Queue) Fail(ctx context.Context, id, errMsg string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE work_queue
		SET status = CASE WHEN attempts < $3 THEN 'pending' ELSE 'failed' END,
			payload = COALESCE(payload, '{}'::jsonb) || jsonb_build_object('last_error', $2::text),
			worker_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, id, errMsg, q.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to fail queue item: %w", err)
	}
	return nil
}

// RequeueStuck returns claimed items older than the threshold to pending.
// Items out of attempts are failed instead. Returns requeued and failed
// counts.
func (q *Queue) RequeueStuck(ctx context.Context, threshold time.Duration) (int, int, error) {
	var requeued, failed int
	err := q.pool.QueryRow(ctx, `
		WITH stuck AS (
			UPDATE work_queue
			SET status = CASE WHEN attempts < $2 THEN 'pending' ELSE 'failed' END,
				worker_id = NULL, claimed_at = NULL, updated_at = NOW()
			WHERE status = 'claimed' AND claimed_at < NOW() - $1::interval
			RETURNING status
		)
		SELECT COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM stuck
	`, threshold.String(), q.maxAttempts).Scan(&requeued, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to requeue stuck items: %w", err)
	}
	return requeued, failed, nil
}

// Purge deletes terminal items older than the retention window and
// returns the number removed
func (q *Queue) Purge(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM work_queue
		WHERE status IN ('completed', 'failed') AND updated_at < NOW() - $1::interval
	`, retention.String())
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Get returns a queue item by id
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	var item Item
	err := q.pool.QueryRow(ctx, `
		SELECT id, operation, record_id, payload, status, worker_id, attempts,
			claimed_at, created_at, updated_at
		FROM work_queue WHERE id = $1
	`, id).Scan(
		&item.ID, &item.Operation, &item.RecordID, &item.Payload, &item.Status,
		&item.WorkerID, &item.Attempts, &item.ClaimedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue item %s: %w", id, err)
	}
	return &item, nil
}
