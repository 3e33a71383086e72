package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nlpgrid/nlp-service/internal/database"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// HealthCheck handles the health check endpoint
func HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status: "ok",
	}

	// Check database connection
	if database.Pool() != nil {
		if err := database.Status(c.Request.Context()); err != nil {
			response.Database = "disconnected"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response.Database = "connected"
	} else {
		response.Database = "not configured"
	}

	// Cache is advisory; a down cache degrades performance, not health
	switch {
	case resultCache == nil || !resultCache.Enabled():
		response.Cache = "disabled"
	case resultCache.Ping(c.Request.Context()) != nil:
		response.Cache = "disconnected"
	default:
		response.Cache = "connected"
	}

	c.JSON(http.StatusOK, response)
}
