package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/handlers"
)

func registerAdminRoutes(admin *gin.RouterGroup, handler *handlers.AdminHandler, schedules *handlers.SchedulerHandler) {
	admin.GET("/health", handler.Health)

	admin.GET("/:platform/token-status", handler.TokenStatus)
	admin.POST("/:platform/refresh-token", handler.RefreshToken)
	admin.PUT("/:platform/token", handler.UpdateToken)

	cacheGroup := admin.Group("/cache")
	{
		cacheGroup.GET("/stats", handler.CacheStats)
		cacheGroup.POST("/purge", handler.PurgeCache)
	}

	admin.POST("/scheduler/run", schedules.RunNow)
}
