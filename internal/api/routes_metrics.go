package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/handlers"
)

func registerMetricRoutes(api *gin.RouterGroup, handler *handlers.MetricHandler) {
	api.GET("/platforms", handler.Platforms)
	api.GET("/:platform/:resource/metrics/:metric", handler.Get)
}

func registerStreamRoutes(api *gin.RouterGroup, handler *handlers.RealtimeHandler) {
	api.GET("/stream", handler.Stream)
}
