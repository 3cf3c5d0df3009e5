package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/monitoring"
	"github.com/charlesng35/socialcounter/pkg/response"
)

// HealthHandler reports service readiness.
type HealthHandler struct {
	health *monitoring.HealthManager
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(health *monitoring.HealthManager) *HealthHandler {
	return &HealthHandler{health: health}
}

// Health returns 200 while the critical dependencies are reachable and 503 otherwise.
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.health.Evaluate(requestContext(c))

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, gin.H{
		"status":    report.Status,
		"message":   "Social Counter API is running",
		"timestamp": report.CheckedAt,
		"checks":    report.Checks,
	})
}
