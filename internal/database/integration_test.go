package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nlpgrid/nlp-service/internal/nlp"
)

// setupTestDB starts a throwaway postgres container with the service
// schema applied
func setupTestDB(t *testing.T) *pgxpool.Pool {
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

	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func TestTaskStoreIntegration(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewTaskStore(pool)

	input := CreateTaskInput{
		Kind:        nlp.KindClassification,
		InputText:   "integration input",
		Fingerprint: "fp-1",
		Parameters:  json.RawMessage(`{"categories":["a","b"]}`),
	}

	t.Run("lifecycle pending to completed", func(t *testing.T) {
		task, err := store.Create(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, nlp.StatusPending, task.Status)
		assert.False(t, task.FromCache)

		ok, err := store.MarkProcessing(ctx, task.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		// a second claim must lose
		ok, err = store.MarkProcessing(ctx, task.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		result := json.RawMessage(`{"category":"a","confidence":0.9}`)
		require.NoError(t, store.Complete(ctx, task.ID, result, time.Now().UTC()))

		got, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, nlp.StatusCompleted, got.Status)
		assert.JSONEq(t, string(result), string(got.Result))
		require.NotNil(t, got.ProcessingTime)
		assert.GreaterOrEqual(t, *got.ProcessingTime, 0.0)

		// terminal states are final
		ok, err = store.Cancel(ctx, task.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, store.Fail(ctx, task.ID, "late failure", time.Now().UTC()), ErrNotFound)
	})

	t.Run("cancel pending", func(t *testing.T) {
		task, err := store.Create(ctx, input)
		require.NoError(t, err)

		ok, err := store.Cancel(ctx, task.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.MarkProcessing(ctx, task.ID)
		require.NoError(t, err)
		assert.False(t, ok, "cancelled tasks are never claimed")
	})

	t.Run("cache hit audit row", func(t *testing.T) {
		result := json.RawMessage(`{"category":"b","confidence":0.8}`)
		task, err := store.CreateCompleted(ctx, input, result)
		require.NoError(t, err)

		assert.Equal(t, nlp.StatusCompleted, task.Status)
		assert.True(t, task.FromCache)
		require.NotNil(t, task.ProcessingTime)
		assert.Equal(t, 0.0, *task.ProcessingTime)
		require.NotNil(t, task.CompletedAt)
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestJobStoreIntegration(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	jobs := NewJobStore(pool)
	tasks := NewTaskStore(pool)

	newChild := func(jobID string) *Task {
		task, err := tasks.Create(ctx, CreateTaskInput{
			Kind:        nlp.KindSentimentAnalysis,
			InputText:   "child input",
			Fingerprint: "fp-child",
			Parameters:  json.RawMessage(`{}`),
			BatchJobID:  &jobID,
		})
		require.NoError(t, err)
		return task
	}

	t.Run("job aggregate", func(t *testing.T) {
		job, err := jobs.Create(ctx, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, nlp.StatusPending, job.Status)

		a := newChild(job.ID)
		b := newChild(job.ID)

		ok, err := jobs.MarkProcessing(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		listed, err := tasks.ListByJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Len(t, listed, 2)

		results, _ := json.Marshal(map[string]any{
			a.ID: map[string]string{"sentiment": "positive"},
			b.ID: map[string]string{"error": "gateway unavailable"},
		})
		require.NoError(t, jobs.Complete(ctx, job.ID, 1, 1, results, time.Now().UTC()))

		got, err := jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, nlp.StatusCompleted, got.Status)
		assert.Equal(t, got.TotalTasks, got.CompletedTasks+got.FailedTasks)

		ok, err = jobs.Cancel(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok, "terminal jobs are not cancellable")
	})

	t.Run("cascading cancel", func(t *testing.T) {
		job, err := jobs.Create(ctx, 3, nil)
		require.NoError(t, err)

		newChild(job.ID)
		newChild(job.ID)
		inFlight := newChild(job.ID)
		ok, err := tasks.MarkProcessing(ctx, inFlight.ID)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = jobs.Cancel(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		cancelled, err := tasks.CancelPendingByJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, cancelled, "processing children run to completion")

		got, err := tasks.Get(ctx, inFlight.ID)
		require.NoError(t, err)
		assert.Equal(t, nlp.StatusProcessing, got.Status)
	})
}

func TestWebhookStoreIntegration(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewWebhookStore(pool)

	t.Run("failure accounting deactivates at threshold", func(t *testing.T) {
		webhook, err := store.Create(ctx, "https://example.com/hook", []string{"task.completed"}, nil, "secret-1")
		require.NoError(t, err)
		assert.True(t, webhook.IsActive)

		status := 500
		for i := 1; i <= 2; i++ {
			count, active, err := store.RecordFailure(ctx, webhook.ID, &status, 3)
			require.NoError(t, err)
			assert.Equal(t, i, count)
			assert.True(t, active)
		}

		count, active, err := store.RecordFailure(ctx, webhook.ID, &status, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.False(t, active)

		// success on another webhook id is not required; reactivate resets
		require.NoError(t, store.Reactivate(ctx, webhook.ID))
		got, err := store.Get(ctx, webhook.ID)
		require.NoError(t, err)
		assert.True(t, got.IsActive)
		assert.Equal(t, 0, got.FailureCount)

		require.NoError(t, store.RecordSuccess(ctx, webhook.ID, 200, time.Now().UTC()))
		got, err = store.Get(ctx, webhook.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastStatus)
		assert.Equal(t, 200, *got.LastStatus)
	})

	t.Run("event subscription filter", func(t *testing.T) {
		specific, err := store.Create(ctx, "https://example.com/a", []string{"batch.completed"}, nil, "s-a")
		require.NoError(t, err)
		wildcard, err := store.Create(ctx, "https://example.com/b", []string{"*"}, nil, "s-b")
		require.NoError(t, err)
		_, err = store.Create(ctx, "https://example.com/c", []string{"task.failed"}, nil, "s-c")
		require.NoError(t, err)

		subscribers, err := store.ListActiveForEvent(ctx, "batch.completed")
		require.NoError(t, err)

		ids := make([]string, 0, len(subscribers))
		for _, s := range subscribers {
			ids = append(ids, s.ID)
		}
		assert.Contains(t, ids, specific.ID)
		assert.Contains(t, ids, wildcard.ID)
		assert.Len(t, ids, 2)
	})

	t.Run("delete", func(t *testing.T) {
		webhook, err := store.Create(ctx, "https://example.com/d", []string{"*"}, nil, "s-d")
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, webhook.ID))
		assert.ErrorIs(t, store.Delete(ctx, webhook.ID), ErrNotFound)
	})
}
