// Package orchestrator owns the task state machine: cache lookup, context
// retrieval, inference dispatch, result persistence and lifecycle events.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/nlp"
	"github.com/nlpgrid/nlp-service/internal/telemetry"
	"github.com/nlpgrid/nlp-service/internal/webhooks"
)

// ErrCancelRejected is returned when a cancel request targets a record
// that is not in a cancellable state. The record is left unchanged.
var ErrCancelRejected = errors.New("cancel rejected: record is not in a cancellable state")

// TaskStore is the task persistence the orchestrator needs. Implemented
// by database.TaskStore.
type TaskStore interface {
	Create(ctx context.Context, input database.CreateTaskInput) (*database.Task, error)
	CreateCompleted(ctx context.Context, input database.CreateTaskInput, result json.RawMessage) (*database.Task, error)
	Get(ctx context.Context, id string) (*database.Task, error)
	ListByJob(ctx context.Context, jobID string) ([]*database.Task, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error
	Fail(ctx context.Context, id string, errMsg string, completedAt time.Time) error
	Cancel(ctx context.Context, id string) (bool, error)
	CancelPendingByJob(ctx context.Context, jobID string) (int, error)
}

// InferenceClient is the external NLP provider boundary. Implemented by
// inference.Client.
type InferenceClient interface {
	Classify(ctx context.Context, text string, categories []string, contextText string) (*nlp.ClassificationResult, error)
	ExtractEntities(ctx context.Context, text string, entityTypes []string, contextText string) (*nlp.EntityExtractionResult, error)
	Summarize(ctx context.Context, text string, maxLength int, contextText string) (*nlp.SummarizationResult, error)
	AnalyzeSentiment(ctx context.Context, text string, contextText string) (*nlp.SentimentResult, error)
}

// ContextProvider is the similarity-search boundary. Implemented by
// rag.Retriever.
type ContextProvider interface {
	Enabled() bool
	GetContext(ctx context.Context, query string, maxLength int) string
}

// ResultCache is the content cache boundary. Implemented by cache.Cache.
type ResultCache interface {
	Enabled() bool
	Get(ctx context.Context, kind nlp.Kind, fingerprint string) json.RawMessage
	Put(ctx context.Context, kind nlp.Kind, fingerprint string, result json.RawMessage, ttl time.Duration)
}

// Notifier delivers lifecycle events. Implemented by webhooks.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, webhookID, event string, payload webhooks.Payload) error
	Publish(ctx context.Context, event string, payload webhooks.Payload)
}

// Orchestrator drives tasks from submission to a terminal state
type Orchestrator struct {
	tasks     TaskStore
	cache     ResultCache
	inference InferenceClient
	retriever ContextProvider
	notifier  Notifier
}

func New(tasks TaskStore, cache ResultCache, client InferenceClient, retriever ContextProvider, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		tasks:     tasks,
		cache:     cache,
		inference: client,
		retriever: retriever,
		notifier:  notifier,
	}
}

// SubmitInput is a validated, typed task submission
type SubmitInput struct {
	Kind       nlp.Kind
	Text       string
	Params     nlp.Params
	BatchJobID *string
}

// Submit runs a task to its terminal state and returns the record. A
// cache hit short-circuits processing: the task is still recorded for
// audit with the cached result attached. Expected processing failures are
// reported through the task's terminal state, not the error return; the
// error covers record-store failures only.
func (o *Orchestrator) Submit(ctx context.Context, input SubmitInput) (*database.Task, error) {
	fingerprint := nlp.Fingerprint(input.Kind, input.Text, input.Params)

	params, err := nlp.EncodeParams(input.Params)
	if err != nil {
		return nil, err
	}
	createInput := database.CreateTaskInput{
		Kind:        input.Kind,
		InputText:   input.Text,
		Fingerprint: fingerprint,
		Parameters:  params,
		BatchJobID:  input.BatchJobID,
	}

	if o.cache.Enabled() {
		if cached := o.cache.Get(ctx, input.Kind, fingerprint); cached != nil {
			log.Info().Str("task_type", string(input.Kind)).Str("fingerprint", fingerprint).
				Msg("Cache hit, skipping inference")
			telemetry.CacheRequests.WithLabelValues(string(input.Kind), "hit").Inc()
			telemetry.TasksProcessed.WithLabelValues(string(input.Kind), string(nlp.StatusCompleted)).Inc()
			return o.tasks.CreateCompleted(ctx, createInput, cached)
		}
		telemetry.CacheRequests.WithLabelValues(string(input.Kind), "miss").Inc()
	}

	task, err := o.tasks.Create(ctx, createInput)
	if err != nil {
		return nil, err
	}

	return o.process(ctx, task, input.Params)
}

// ProcessTask runs a previously persisted pending task to a terminal
// state. Used by batch processing and background workers.
func (o *Orchestrator) ProcessTask(ctx context.Context, taskID string) (*database.Task, error) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != nlp.StatusPending {
		// Already claimed, cancelled or terminal; nothing to do
		return task, nil
	}

	params, err := nlp.DecodeParams(task.Kind, task.Parameters)
	if err != nil {
		ok, claimErr := o.tasks.MarkProcessing(ctx, taskID)
		if claimErr != nil {
			return nil, claimErr
		}
		if !ok {
			return o.tasks.Get(ctx, taskID)
		}
		return o.failTask(ctx, task, err.Error())
	}
	return o.process(ctx, task, params)
}

// Cancel transitions a pending task to cancelled. Tasks already
// processing or terminal are left untouched and the call is rejected.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (*database.Task, error) {
	ok, err := o.tasks.Cancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task, getErr := o.tasks.Get(ctx, taskID)
	if getErr != nil {
		return nil, getErr
	}
	if !ok {
		return task, fmt.Errorf("%w: task %s is %s", ErrCancelRejected, taskID, task.Status)
	}
	return task, nil
}

// Get returns a task by id
func (o *Orchestrator) Get(ctx context.Context, taskID string) (*database.Task, error) {
	return o.tasks.Get(ctx, taskID)
}

// process drives a pending task through processing to a terminal state
func (o *Orchestrator) process(ctx context.Context, task *database.Task, params nlp.Params) (*database.Task, error) {
	ok, err := o.tasks.MarkProcessing(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the transition: the task was cancelled or picked up elsewhere
		return o.tasks.Get(ctx, task.ID)
	}

	contextText := ""
	if useRAG, maxLen := params.Context(); useRAG && o.retriever.Enabled() {
		contextText = o.retriever.GetContext(ctx, task.InputText, maxLen)
	}

	result, inferErr := o.dispatch(ctx, task, params, contextText)
	if inferErr != nil {
		log.Error().Err(inferErr).Str("task_id", task.ID).Str("task_type", string(task.Kind)).
			Msg("Task failed")
		return o.failTask(ctx, task, inferErr.Error())
	}

	completedAt := time.Now().UTC()
	if err := o.tasks.Complete(ctx, task.ID, result, completedAt); err != nil {
		return nil, err
	}
	o.cache.Put(ctx, task.Kind, task.InputFingerprint, result, 0)
	telemetry.TasksProcessed.WithLabelValues(string(task.Kind), string(nlp.StatusCompleted)).Inc()
	telemetry.TaskDuration.WithLabelValues(string(task.Kind)).Observe(completedAt.Sub(task.CreatedAt).Seconds())

	updated, err := o.tasks.Get(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	o.emit(ctx, nlp.EventTaskCompleted, webhooks.Payload{
		"event":     nlp.EventTaskCompleted,
		"task_id":   task.ID,
		"result":    json.RawMessage(result),
		"timestamp": completedAt.Format(time.RFC3339),
	})
	return updated, nil
}

// dispatch routes the task to the gateway operation matching its kind
func (o *Orchestrator) dispatch(ctx context.Context, task *database.Task, params nlp.Params, contextText string) (json.RawMessage, error) {
	var result any
	var err error

	switch p := params.(type) {
	case nlp.ClassificationParams:
		result, err = o.inference.Classify(ctx, task.InputText, p.Categories, contextText)
	case nlp.EntityExtractionParams:
		result, err = o.inference.ExtractEntities(ctx, task.InputText, p.EntityTypes, contextText)
	case nlp.SummarizationParams:
		result, err = o.inference.Summarize(ctx, task.InputText, p.EffectiveMaxLength(), contextText)
	case nlp.SentimentParams:
		result, err = o.inference.AnalyzeSentiment(ctx, task.InputText, contextText)
	default:
		err = &nlp.ErrInvalidTaskKind{Kind: string(task.Kind)}
	}
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", task.Kind, err)
	}
	return encoded, nil
}

func (o *Orchestrator) failTask(ctx context.Context, task *database.Task, errMsg string) (*database.Task, error) {
	completedAt := time.Now().UTC()
	if err := o.tasks.Fail(ctx, task.ID, errMsg, completedAt); err != nil {
		return nil, err
	}
	telemetry.TasksProcessed.WithLabelValues(string(task.Kind), string(nlp.StatusFailed)).Inc()
	updated, err := o.tasks.Get(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	o.emit(ctx, nlp.EventTaskFailed, webhooks.Payload{
		"event":     nlp.EventTaskFailed,
		"task_id":   task.ID,
		"error":     errMsg,
		"timestamp": completedAt.Format(time.RFC3339),
	})
	return updated, nil
}

func (o *Orchestrator) emit(ctx context.Context, event string, payload webhooks.Payload) {
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(ctx, event, payload)
}
