package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by /health/info.
var Version = "dev"

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	ping func(ctx context.Context) error
	info func() map[string]any
}

// NewHealthHandler creates a health handler. ping and info may be nil.
func NewHealthHandler(ping func(ctx context.Context) error, info func() map[string]any) *HealthHandler {
	return &HealthHandler{ping: ping, info: info}
}

// Live handles the liveness probe.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready checks the record store.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"checks": map[string]string{
					"database": "unhealthy: " + err.Error(),
				},
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": map[string]string{
			"database": "healthy",
		},
	})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{
		"app":     "recordmanager",
		"version": Version,
	}
	if h.info != nil {
		for k, v := range h.info() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}
