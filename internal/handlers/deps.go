package handlers

import (
	"github.com/nlpgrid/nlp-service/internal/cache"
	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/orchestrator"
	"github.com/nlpgrid/nlp-service/internal/queue"
	"github.com/nlpgrid/nlp-service/internal/webhooks"
)

// Global handler dependencies (initialized by the application)
var (
	orch         *orchestrator.Orchestrator
	coordinator  *orchestrator.Coordinator
	workQueue    *queue.Queue
	webhookStore *database.WebhookStore
	dispatcher   *webhooks.Dispatcher
	resultCache  *cache.Cache
)

// Init wires the handler dependencies. Must be called during application
// startup before the router is built.
func Init(
	o *orchestrator.Orchestrator,
	c *orchestrator.Coordinator,
	q *queue.Queue,
	ws *database.WebhookStore,
	d *webhooks.Dispatcher,
	rc *cache.Cache,
) {
	orch = o
	coordinator = c
	workQueue = q
	webhookStore = ws
	dispatcher = d
	resultCache = rc
}
