package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/webhooks"
)

// ============================================================================
// Webhook Management Endpoints
// ============================================================================

// CreateWebhookRequest registers a new notification subscriber
type CreateWebhookRequest struct {
	URL         string   `json:"url" binding:"required"`
	Events      []string `json:"events" binding:"required,min=1"`
	Description *string  `json:"description,omitempty"`
}

// CreateWebhook registers a webhook. The signing secret is generated
// server-side and returned exactly once in this response.
// POST /api/v1/webhooks
func CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := webhooks.ValidateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	secret, err := webhooks.GenerateSecret()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate secret"})
		return
	}

	webhook, err := webhookStore.Create(c.Request.Context(), req.URL, req.Events, req.Description, secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create webhook"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": webhook,
		"secret":  secret,
	})
}

// ListWebhooks returns every registered webhook
// GET /api/v1/webhooks
func ListWebhooks(c *gin.Context) {
	list, err := webhookStore.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": list, "count": len(list)})
}

// GetWebhook returns a webhook by id
// GET /api/v1/webhooks/:id
func GetWebhook(c *gin.Context) {
	webhook, err := webhookStore.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load webhook"})
		return
	}
	c.JSON(http.StatusOK, webhook)
}

// DeleteWebhook removes a webhook
// DELETE /api/v1/webhooks/:id
func DeleteWebhook(c *gin.Context) {
	if err := webhookStore.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete webhook"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ReactivateWebhook re-enables a webhook deactivated by delivery failures
// POST /api/v1/webhooks/:id/reactivate
func ReactivateWebhook(c *gin.Context) {
	id := c.Param("id")
	if err := webhookStore.Reactivate(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reactivate webhook"})
		return
	}

	webhook, err := webhookStore.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load webhook"})
		return
	}
	c.JSON(http.StatusOK, webhook)
}

// TestWebhook fires a signed test delivery at the webhook
// POST /api/v1/webhooks/:id/test
func TestWebhook(c *gin.Context) {
	id := c.Param("id")
	payload := webhooks.Payload{
		"event":     "webhook.test",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	err := dispatcher.Notify(c.Request.Context(), id, "webhook.test", payload)
	if err != nil {
		switch {
		case errors.Is(err, webhooks.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		case errors.Is(err, webhooks.ErrInactive):
			c.JSON(http.StatusConflict, gin.H{"error": "webhook is deactivated"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"delivered": false, "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}
