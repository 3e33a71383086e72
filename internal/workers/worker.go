// Package workers polls the work queue and executes registered
// operation handlers.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nlpgrid/nlp-service/internal/queue"
)

// Handler executes one claimed queue item
type Handler func(ctx context.Context, item queue.Item) error

type Config struct {
	WorkerID   string
	NumWorkers int
	MaxClaim   int
	PollDelay  time.Duration
}

// Worker runs a fixed pool of polling goroutines. Each goroutine claims
// a batch of pending items for the operations it has handlers for and
// executes them sequentially.
type Worker struct {
	queue      *queue.Queue
	config     Config
	handlers   map[string]Handler
	operations []string
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

func New(q *queue.Queue, config Config) *Worker {
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.MaxClaim < 1 {
		config.MaxClaim = 1
	}
	if config.PollDelay <= 0 {
		config.PollDelay = time.Second
	}
	return &Worker{
		queue:    q,
		config:   config,
		handlers: make(map[string]Handler),
		stopChan: make(chan struct{}),
	}
}

// RegisterHandler binds an operation to its handler. Must be called
// before Start.
func (w *Worker) RegisterHandler(operation string, handler Handler) {
	w.handlers[operation] = handler
	w.operations = append(w.operations, operation)
}

func (w *Worker) Start(ctx context.Context) {
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Strs("operations", w.operations).
		Int("num_workers", w.config.NumWorkers).
		Msg("Starting worker pool")

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
}

// Stop signals every goroutine and waits for in-flight items to finish
func (w *Worker) Stop() {
	close(w.stopChan)
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Msg("Worker pool stopping, waiting for in-flight work")
	w.wg.Wait()
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Msg("Worker pool stopped")
}

func (w *Worker) loop(ctx context.Context, workerNum int) {
	defer w.wg.Done()
	workerID := fmt.Sprintf("%s-%d", w.config.WorkerID, workerNum)

	ticker := time.NewTicker(w.config.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("component", "worker").
				Str("worker_id", workerID).
				Msg("Worker shutting down")
			return

		case <-w.stopChan:
			return

		case <-ticker.C:
			w.drain(ctx, workerID)
		}
	}
}

func (w *Worker) drain(ctx context.Context, workerID string) {
	items, err := w.queue.Claim(ctx, workerID, w.operations, w.config.MaxClaim)
	if err != nil {
		log.Error().Err(err).Str("worker_id", workerID).Msg("Failed to claim work")
		return
	}
	if len(items) == 0 {
		return
	}

	log.Debug().
		Str("component", "worker").
		Str("worker_id", workerID).
		Int("item_count", len(items)).
		Msg("Worker claimed items")

	for _, item := range items {
		w.execute(ctx, workerID, item)
	}
}

func (w *Worker) execute(ctx context.Context, workerID string, item queue.Item) {
	handler, exists := w.handlers[item.Operation]
	if !exists {
		log.Warn().
			Str("operation", item.Operation).
			Str("item_id", item.ID).
			Msg("No handler for operation")
		if err := w.queue.Fail(ctx, item.ID, "no handler registered"); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("Failed to record missing handler")
		}
		return
	}

	log.Info().
		Str("component", "worker").
		Str("worker_id", workerID).
		Str("item_id", item.ID).
		Str("operation", item.Operation).
		Str("record_id", item.RecordID).
		Msg("Worker executing item")

	if err := handler(ctx, item); err != nil {
		log.Error().
			Err(err).
			Str("item_id", item.ID).
			Str("operation", item.Operation).
			Msg("Handler failed")
		if failErr := w.queue.Fail(ctx, item.ID, err.Error()); failErr != nil {
			log.Error().Err(failErr).Str("item_id", item.ID).Msg("Failed to record handler failure")
		}
		return
	}

	if err := w.queue.Complete(ctx, item.ID); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("Failed to mark item completed")
	}
}
