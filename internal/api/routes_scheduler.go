package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/handlers"
)

func registerSchedulerRoutes(api *gin.RouterGroup, handler *handlers.SchedulerHandler) {
	group := api.Group("/scheduler")
	group.POST("", handler.Create)
	group.GET("", handler.List)
	group.GET("/stats", handler.Stats)
	group.DELETE("/:id", handler.Delete)
}
