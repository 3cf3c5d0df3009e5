package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/socialcounter/internal/app"
	"github.com/charlesng35/socialcounter/internal/cache"
	"github.com/charlesng35/socialcounter/internal/credentials"
	"github.com/charlesng35/socialcounter/internal/handlers"
	"github.com/charlesng35/socialcounter/internal/middleware"
	"github.com/charlesng35/socialcounter/internal/monitoring"
	"github.com/charlesng35/socialcounter/internal/monitoring/checks"
	"github.com/charlesng35/socialcounter/internal/notifications"
	"github.com/charlesng35/socialcounter/internal/scheduler"
	"github.com/charlesng35/socialcounter/internal/services"
)

// Dependencies bundles the services the HTTP layer is built from.
type Dependencies struct {
	DB          *gorm.DB
	Config      *app.Config
	Metrics     *services.MetricService
	Cache       *cache.MetricCache
	Schedules   *scheduler.Store
	Scheduler   *scheduler.RefreshScheduler
	Credentials []*credentials.Manager
	// Hub is nil when the websocket stream is disabled.
	Hub       *notifications.Hub
	RateStore middleware.RateStore
	// Health defaults to a database-only probe set.
	Health *monitoring.HealthManager
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.Metrics == nil:
		return fmt.Errorf("metric service must be provided")
	case d.Cache == nil:
		return fmt.Errorf("metric cache must be provided")
	case d.Schedules == nil || d.Scheduler == nil:
		return fmt.Errorf("scheduler must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}

	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthManager(0)
		health.Register(checks.Database(deps.DB))
	}
	registerHealthRoutes(r, handlers.NewHealthHandler(health))

	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminKey(cfg.Auth.AdminKey))
	registerAdminRoutes(admin,
		handlers.NewAdminHandler(deps.Cache, deps.Credentials...),
		handlers.NewSchedulerHandler(deps.Schedules, deps.Scheduler, deps.Metrics),
	)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.APIKey(cfg.Auth.APIKey))
	registerSchedulerRoutes(v1, handlers.NewSchedulerHandler(deps.Schedules, deps.Scheduler, deps.Metrics))
	registerMetricRoutes(v1, handlers.NewMetricHandler(deps.Metrics))
	if deps.Hub != nil {
		registerStreamRoutes(v1, handlers.NewRealtimeHandler(deps.Hub))
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
