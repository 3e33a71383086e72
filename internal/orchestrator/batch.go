package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/nlp"
	"github.com/nlpgrid/nlp-service/internal/telemetry"
	"github.com/nlpgrid/nlp-service/internal/webhooks"
)

// JobStore is the batch-job persistence the coordinator needs.
// Implemented by database.JobStore.
type JobStore interface {
	Create(ctx context.Context, totalTasks int, webhookID *string) (*database.BatchJob, error)
	Get(ctx context.Context, id string) (*database.BatchJob, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, completed, failed int, results json.RawMessage, completedAt time.Time) error
	Fail(ctx context.Context, id string, errMsg string, completedAt time.Time) error
	Cancel(ctx context.Context, id string) (bool, error)
}

// Coordinator fans a batch of tasks out over a bounded worker pool and
// aggregates per-task outcomes into the parent job.
type Coordinator struct {
	jobs         JobStore
	tasks        TaskStore
	orchestrator *Orchestrator
	notifier     Notifier
	workers      int
}

func NewCoordinator(jobs JobStore, tasks TaskStore, orch *Orchestrator, notifier Notifier, workers int) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		jobs:         jobs,
		tasks:        tasks,
		orchestrator: orch,
		notifier:     notifier,
		workers:      workers,
	}
}

// CreateBatch persists a pending job plus one pending child task per
// item. Nothing is processed yet; Process drives the job afterwards.
func (c *Coordinator) CreateBatch(ctx context.Context, items []SubmitInput, webhookID *string) (*database.BatchJob, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("batch requires at least one task")
	}

	job, err := c.jobs.Create(ctx, len(items), webhookID)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		params, err := nlp.EncodeParams(item.Params)
		if err != nil {
			return nil, err
		}
		_, err = c.tasks.Create(ctx, database.CreateTaskInput{
			Kind:        item.Kind,
			InputText:   item.Text,
			Fingerprint: nlp.Fingerprint(item.Kind, item.Text, item.Params),
			Parameters:  params,
			BatchJobID:  &job.ID,
		})
		if err != nil {
			return nil, err
		}
	}

	log.Info().Str("job_id", job.ID).Int("total_tasks", job.TotalTasks).Msg("Batch job created")
	return job, nil
}

// Process runs every child task of the job to a terminal state and
// records the aggregate on the job. A failed child does not fail the
// job; only coordination errors do. Jobs no longer pending (cancelled
// in the meantime) are skipped.
func (c *Coordinator) Process(ctx context.Context, jobID string) error {
	ok, err := c.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Str("job_id", jobID).Msg("Batch job no longer pending, skipping")
		return nil
	}

	children, err := c.tasks.ListByJob(ctx, jobID)
	if err != nil {
		return c.failJob(ctx, jobID, err)
	}

	var mu sync.Mutex
	results := make(map[string]json.RawMessage, len(children))
	completed, failed := 0, 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, child := range children {
		g.Go(func() error {
			task, err := c.orchestrator.ProcessTask(gctx, child.ID)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if task.Status == nlp.StatusCompleted {
				completed++
				results[task.ID] = task.Result
			} else {
				failed++
				errMsg := "task did not complete"
				if task.Error != nil {
					errMsg = *task.Error
				}
				encoded, _ := json.Marshal(map[string]string{"error": errMsg})
				results[task.ID] = encoded
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c.failJob(ctx, jobID, err)
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return c.failJob(ctx, jobID, err)
	}
	completedAt := time.Now().UTC()
	if err := c.jobs.Complete(ctx, jobID, completed, failed, encoded, completedAt); err != nil {
		return err
	}

	log.Info().Str("job_id", jobID).Int("completed", completed).Int("failed", failed).
		Msg("Batch job completed")
	telemetry.BatchJobsProcessed.WithLabelValues(string(nlp.StatusCompleted)).Inc()

	payload := webhooks.Payload{
		"event":     nlp.EventBatchCompleted,
		"job_id":    jobID,
		"results":   json.RawMessage(encoded),
		"timestamp": completedAt.Format(time.RFC3339),
	}
	c.notify(ctx, jobID, nlp.EventBatchCompleted, payload)
	return nil
}

// CancelBatch cancels a pending or processing job along with every
// still-pending child. Children already processing run to completion
// but their results are no longer aggregated.
func (c *Coordinator) CancelBatch(ctx context.Context, jobID string) (*database.BatchJob, error) {
	ok, err := c.jobs.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job, getErr := c.jobs.Get(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	if !ok {
		return job, fmt.Errorf("%w: job %s is %s", ErrCancelRejected, jobID, job.Status)
	}

	cancelled, err := c.tasks.CancelPendingByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("job_id", jobID).Int("cancelled_tasks", cancelled).Msg("Batch job cancelled")
	return job, nil
}

// Get returns a batch job by id
func (c *Coordinator) Get(ctx context.Context, jobID string) (*database.BatchJob, error) {
	return c.jobs.Get(ctx, jobID)
}

func (c *Coordinator) failJob(ctx context.Context, jobID string, cause error) error {
	completedAt := time.Now().UTC()
	if err := c.jobs.Fail(ctx, jobID, cause.Error(), completedAt); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to record batch job failure")
	}
	telemetry.BatchJobsProcessed.WithLabelValues(string(nlp.StatusFailed)).Inc()

	c.notify(ctx, jobID, nlp.EventBatchFailed, webhooks.Payload{
		"event":     nlp.EventBatchFailed,
		"job_id":    jobID,
		"error":     cause.Error(),
		"timestamp": completedAt.Format(time.RFC3339),
	})
	return cause
}

// notify publishes the event to subscribers and, when the job carries an
// explicit webhook target, delivers to it directly. Delivery runs off
// the request path; failures are handled by the dispatcher's retry and
// deactivation accounting.
func (c *Coordinator) notify(ctx context.Context, jobID, event string, payload webhooks.Payload) {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(ctx, event, payload)

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil || job.WebhookID == nil {
		return
	}
	webhookID := *job.WebhookID
	go func() {
		if err := c.notifier.Notify(context.WithoutCancel(ctx), webhookID, event, payload); err != nil {
			log.Warn().Err(err).Str("webhook_id", webhookID).Str("job_id", jobID).
				Msg("Batch webhook delivery failed")
		}
	}()
}
