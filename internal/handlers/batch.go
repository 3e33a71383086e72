package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/nlp"
	"github.com/nlpgrid/nlp-service/internal/orchestrator"
	"github.com/nlpgrid/nlp-service/internal/queue"
)

// ============================================================================
// Batch Endpoints
// ============================================================================

// BatchTaskItem is one task inside a batch submission
type BatchTaskItem struct {
	TaskType   string          `json:"task_type" binding:"required"`
	Text       string          `json:"text" binding:"required"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// BatchRequest is the batch submission request
type BatchRequest struct {
	Tasks     []BatchTaskItem `json:"tasks" binding:"required,min=1,max=100"`
	WebhookID *string         `json:"webhook_id,omitempty"`
}

// SubmitBatch accepts a batch of tasks and schedules background
// processing. The returned job is the handle for polling status.
// POST /api/v1/batch/submit
func SubmitBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]orchestrator.SubmitInput, 0, len(req.Tasks))
	for i, item := range req.Tasks {
		kind, err := nlp.ParseKind(item.TaskType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "task_index": i})
			return
		}
		params, err := nlp.DecodeParams(kind, item.Parameters)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "task_index": i})
			return
		}
		items = append(items, orchestrator.SubmitInput{Kind: kind, Text: item.Text, Params: params})
	}

	if req.WebhookID != nil {
		if _, err := webhookStore.Get(c.Request.Context(), *req.WebhookID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown webhook"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify webhook"})
			return
		}
	}

	job, err := coordinator.CreateBatch(c.Request.Context(), items, req.WebhookID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch submission failed"})
		return
	}

	if workQueue != nil {
		if _, err := workQueue.Enqueue(c.Request.Context(), queue.OpProcessBatch, job.ID, nil); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule batch"})
			return
		}
	} else {
		go func() {
			if err := coordinator.Process(context.Background(), job.ID); err != nil {
				log.Error().Err(err).Str("job_id", job.ID).Msg("Batch processing failed")
			}
		}()
	}

	c.JSON(http.StatusAccepted, job)
}

// GetBatchStatus returns a batch job's current state
// GET /api/v1/batch/status/:id
func GetBatchStatus(c *gin.Context) {
	job, err := coordinator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load batch job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetBatchResults returns the aggregated results of a terminal job.
// Jobs still running answer 202 with the current status.
// GET /api/v1/batch/results/:id
func GetBatchResults(c *gin.Context) {
	job, err := coordinator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load batch job"})
		return
	}

	if !job.Status.IsTerminal() {
		c.JSON(http.StatusAccepted, gin.H{"id": job.ID, "status": job.Status})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":              job.ID,
		"status":          job.Status,
		"total_tasks":     job.TotalTasks,
		"completed_tasks": job.CompletedTasks,
		"failed_tasks":    job.FailedTasks,
		"results":         job.Results,
		"error":           job.Error,
	})
}

// CancelBatch cancels a pending or processing batch job
// POST /api/v1/batch/cancel/:id
func CancelBatch(c *gin.Context) {
	job, err := coordinator.CancelBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "batch job not found"})
		case errors.Is(err, orchestrator.ErrCancelRejected):
			c.JSON(http.StatusConflict, gin.H{
				"error":  "batch job is not cancellable",
				"status": job.Status,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel batch job"})
		}
		return
	}
	c.JSON(http.StatusOK, job)
}
