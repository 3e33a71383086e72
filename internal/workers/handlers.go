package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nlpgrid/nlp-service/internal/orchestrator"
	"github.com/nlpgrid/nlp-service/internal/queue"
	"github.com/nlpgrid/nlp-service/internal/webhooks"
)

// TaskHandler processes a single queued task through the orchestrator
func TaskHandler(orch *orchestrator.Orchestrator) Handler {
	return func(ctx context.Context, item queue.Item) error {
		_, err := orch.ProcessTask(ctx, item.RecordID)
		return err
	}
}

// BatchHandler drives a queued batch job through the coordinator
func BatchHandler(coord *orchestrator.Coordinator) Handler {
	return func(ctx context.Context, item queue.Item) error {
		return coord.Process(ctx, item.RecordID)
	}
}

// WebhookHandler delivers a queued notification to the webhook named by
// the item's record id
func WebhookHandler(dispatcher *webhooks.Dispatcher) Handler {
	return func(ctx context.Context, item queue.Item) error {
		var work webhooks.Delivery
		if err := json.Unmarshal(item.Payload, &work); err != nil {
			return fmt.Errorf("invalid webhook work payload: %w", err)
		}
		return dispatcher.Notify(ctx, item.RecordID, work.Event, work.Payload)
	}
}
