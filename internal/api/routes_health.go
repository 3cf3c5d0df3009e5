package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, handler *handlers.HealthHandler) {
	r.GET("/health", handler.Health)
	r.GET("/api/health", handler.Health)
}
