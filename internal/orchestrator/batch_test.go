package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/nlp"
)

// memJobs is an in-memory JobStore with the SQL store's transition guards
type memJobs struct {
	mu   sync.Mutex
	byID map[string]*database.BatchJob
	seq  int
}

func newMemJobs() *memJobs {
	return &memJobs{byID: make(map[string]*database.BatchJob)}
}

func (m *memJobs) Create(_ context.Context, totalTasks int, webhookID *string) (*database.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	j := &database.BatchJob{
		ID:         fmt.Sprintf("job-%d", m.seq),
		Status:     nlp.StatusPending,
		TotalTasks: totalTasks,
		WebhookID:  webhookID,
		CreatedAt:  time.Now().UTC(),
	}
	m.byID[j.ID] = j
	return copyJob(j), nil
}

func (m *memJobs) Get(_ context.Context, id string) (*database.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyJob(j), nil
}

func (m *memJobs) MarkProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok || j.Status != nlp.StatusPending {
		return false, nil
	}
	j.Status = nlp.StatusProcessing
	return true, nil
}

func (m *memJobs) Complete(_ context.Context, id string, completed, failed int, results json.RawMessage, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok || j.Status != nlp.StatusProcessing {
		return database.ErrNotFound
	}
	j.Status = nlp.StatusCompleted
	j.CompletedTasks = completed
	j.FailedTasks = failed
	j.Results = results
	j.CompletedAt = &completedAt
	return nil
}

func (m *memJobs) Fail(_ context.Context, id string, errMsg string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok || (j.Status != nlp.StatusPending && j.Status != nlp.StatusProcessing) {
		return database.ErrNotFound
	}
	j.Status = nlp.StatusFailed
	j.Error = &errMsg
	j.CompletedAt = &completedAt
	return nil
}

func (m *memJobs) Cancel(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok || j.Status.IsTerminal() {
		return false, nil
	}
	j.Status = nlp.StatusCancelled
	return true, nil
}

func copyJob(j *database.BatchJob) *database.BatchJob {
	c := *j
	return &c
}

type batchEnv struct {
	*testEnv
	jobs  *memJobs
	coord *Coordinator
}

func newBatchEnv(workers int) *batchEnv {
	env := newTestEnv()
	jobs := newMemJobs()
	return &batchEnv{
		testEnv: env,
		jobs:    jobs,
		coord:   NewCoordinator(jobs, env.tasks, env.orch, env.notifier, workers),
	}
}

func threeItems() []SubmitInput {
	return []SubmitInput{
		{Kind: nlp.KindClassification, Text: "first input", Params: nlp.ClassificationParams{Categories: []string{"a", "b"}}},
		{Kind: nlp.KindSentimentAnalysis, Text: "boom in the middle", Params: nlp.SentimentParams{}},
		{Kind: nlp.KindSummarization, Text: "third input is longer", Params: nlp.SummarizationParams{}},
	}
}

func TestBatchAggregatesOutcomes(t *testing.T) {
	env := newBatchEnv(2)
	env.inference.failOn = "boom"

	job, err := env.coord.CreateBatch(context.Background(), threeItems(), nil)
	require.NoError(t, err)
	assert.Equal(t, nlp.StatusPending, job.Status)
	assert.Equal(t, 3, job.TotalTasks)

	require.NoError(t, env.coord.Process(context.Background(), job.ID))

	done, err := env.coord.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, nlp.StatusCompleted, done.Status, "a failed task does not fail the job")
	assert.Equal(t, 2, done.CompletedTasks)
	assert.Equal(t, 1, done.FailedTasks)
	assert.Equal(t, done.TotalTasks, done.CompletedTasks+done.FailedTasks)

	var results map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(done.Results, &results))
	require.Len(t, results, 3)

	children, err := env.tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	for _, child := range children {
		entry, ok := results[child.ID]
		require.True(t, ok, "every child appears in the aggregate")
		if child.Status == nlp.StatusFailed {
			var failure map[string]string
			require.NoError(t, json.Unmarshal(entry, &failure))
			assert.Contains(t, failure["error"], "gateway unavailable")
		}
	}

	assert.Contains(t, env.notifier.events(), nlp.EventBatchCompleted)
}

func TestBatchEmptyRejected(t *testing.T) {
	env := newBatchEnv(2)

	_, err := env.coord.CreateBatch(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestBatchWebhookDelivered(t *testing.T) {
	env := newBatchEnv(2)
	webhookID := "wh-target"

	job, err := env.coord.CreateBatch(context.Background(), threeItems(), &webhookID)
	require.NoError(t, err)
	require.NoError(t, env.coord.Process(context.Background(), job.ID))

	select {
	case got := <-env.notifier.notified:
		assert.Equal(t, webhookID, got)
	case <-time.After(2 * time.Second):
		t.Fatal("batch webhook was never delivered")
	}
}

func TestCancelBatchCancelsPendingChildren(t *testing.T) {
	env := newBatchEnv(2)

	job, err := env.coord.CreateBatch(context.Background(), threeItems(), nil)
	require.NoError(t, err)

	cancelled, err := env.coord.CancelBatch(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, nlp.StatusCancelled, cancelled.Status)

	children, err := env.tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	for _, child := range children {
		assert.Equal(t, nlp.StatusCancelled, child.Status)
	}

	// processing a cancelled job is a no-op
	require.NoError(t, env.coord.Process(context.Background(), job.ID))
	assert.Equal(t, 0, env.inference.callCount())
}

func TestCancelBatchRejectedWhenTerminal(t *testing.T) {
	env := newBatchEnv(2)

	job, err := env.coord.CreateBatch(context.Background(), threeItems(), nil)
	require.NoError(t, err)
	require.NoError(t, env.coord.Process(context.Background(), job.ID))

	got, err := env.coord.CancelBatch(context.Background(), job.ID)
	require.ErrorIs(t, err, ErrCancelRejected)
	assert.Equal(t, nlp.StatusCompleted, got.Status)
}
