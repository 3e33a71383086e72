package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nlpgrid/nlp-service/internal/database"
)

func setupTestQueue(t *testing.T, maxAttempts int) (*Queue, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.EnsureSchema(ctx, pool))
	return New(pool, maxAttempts), pool
}

func TestQueueClaimAndComplete(t *testing.T) {
	q, _ := setupTestQueue(t, 3)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, OpProcessTask, "task-1", nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, OpSendWebhook, "wh-1", map[string]string{"event": "task.completed"})
	require.NoError(t, err)

	// a worker for task operations sees only its own work
	items, err := q.Claim(ctx, "worker-a", []string{OpProcessTask}, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "task-1", items[0].RecordID)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, StatusClaimed, items[0].Status)

	// claimed work is invisible to other workers
	again, err := q.Claim(ctx, "worker-b", []string{OpProcessTask}, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, q.Complete(ctx, id))
	item, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, item.Status)
}

func TestQueueFailRetriesUntilExhausted(t *testing.T) {
	q, _ := setupTestQueue(t, 2)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, OpProcessBatch, "job-1", nil)
	require.NoError(t, err)

	// first attempt fails, item returns to pending
	items, err := q.Claim(ctx, "worker-a", []string{OpProcessBatch}, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, q.Fail(ctx, id, "transient"))

	item, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.Contains(t, string(item.Payload), "transient")

	// second attempt exhausts the budget
	items, err = q.Claim(ctx, "worker-a", []string{OpProcessBatch}, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)
	require.NoError(t, q.Fail(ctx, id, "still broken"))

	item, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, item.Status)

	// failed items are never re-claimed
	items, err = q.Claim(ctx, "worker-a", []string{OpProcessBatch}, 1)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueRequeueStuck(t *testing.T) {
	q, pool := setupTestQueue(t, 3)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, OpProcessTask, "task-stuck", nil)
	require.NoError(t, err)
	items, err := q.Claim(ctx, "worker-dead", []string{OpProcessTask}, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// age the claim past the threshold
	_, err = pool.Exec(ctx, `UPDATE work_queue SET claimed_at = NOW() - INTERVAL '10 minutes' WHERE id = $1`, id)
	require.NoError(t, err)

	requeued, failed, err := q.RequeueStuck(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 0, failed)

	item, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.Nil(t, item.WorkerID)
}

func TestQueuePurge(t *testing.T) {
	q, pool := setupTestQueue(t, 3)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, OpProcessTask, "task-old", nil)
	require.NoError(t, err)
	items, err := q.Claim(ctx, "worker-a", []string{OpProcessTask}, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, q.Complete(ctx, id))

	_, err = pool.Exec(ctx, `UPDATE work_queue SET updated_at = NOW() - INTERVAL '30 days' WHERE id = $1`, id)
	require.NoError(t, err)

	purged, err := q.Purge(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = q.Get(ctx, id)
	require.Error(t, err)
}
