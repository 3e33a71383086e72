package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/nlp"
	"github.com/nlpgrid/nlp-service/internal/orchestrator"
)

// ============================================================================
// NLP Task Endpoints
// ============================================================================

// TaskRequest is the common shape of every single-task submission
type TaskRequest struct {
	Text       string          `json:"text" binding:"required"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Classify handles text classification
// POST /api/v1/nlp/classify
func Classify(c *gin.Context) {
	submitTask(c, nlp.KindClassification)
}

// ExtractEntities handles named entity extraction
// POST /api/v1/nlp/extract-entities
func ExtractEntities(c *gin.Context) {
	submitTask(c, nlp.KindEntityExtraction)
}

// Summarize handles text summarization
// POST /api/v1/nlp/summarize
func Summarize(c *gin.Context) {
	submitTask(c, nlp.KindSummarization)
}

// AnalyzeSentiment handles sentiment analysis
// POST /api/v1/nlp/analyze-sentiment
func AnalyzeSentiment(c *gin.Context) {
	submitTask(c, nlp.KindSentimentAnalysis)
}

func submitTask(c *gin.Context, kind nlp.Kind) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params, err := nlp.DecodeParams(kind, req.Parameters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := orch.Submit(c.Request.Context(), orchestrator.SubmitInput{
		Kind:   kind,
		Text:   req.Text,
		Params: params,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task submission failed"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// GetTask returns a task by id
// GET /api/v1/nlp/task/:id
func GetTask(c *gin.Context) {
	task, err := orch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// CancelTask cancels a pending task
// DELETE /api/v1/nlp/task/:id
func CancelTask(c *gin.Context) {
	task, err := orch.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, orchestrator.ErrCancelRejected):
			c.JSON(http.StatusConflict, gin.H{
				"error":  "task is not cancellable",
				"status": task.Status,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel task"})
		}
		return
	}
	c.JSON(http.StatusOK, task)
}

// InvalidateCache drops every cached result for a task type
// POST /api/v1/nlp/cache/invalidate/:taskType
func InvalidateCache(c *gin.Context) {
	kind, err := nlp.ParseKind(c.Param("taskType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := resultCache.Invalidate(c.Request.Context(), kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache invalidation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_type": kind, "removed": removed})
}
