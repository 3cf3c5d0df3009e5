package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/socialcounter/internal/api"
	"github.com/charlesng35/socialcounter/internal/app"
	"github.com/charlesng35/socialcounter/internal/app/maintenance"
	"github.com/charlesng35/socialcounter/internal/cache"
	"github.com/charlesng35/socialcounter/internal/credentials"
	"github.com/charlesng35/socialcounter/internal/database"
	"github.com/charlesng35/socialcounter/internal/middleware"
	"github.com/charlesng35/socialcounter/internal/monitoring"
	"github.com/charlesng35/socialcounter/internal/monitoring/checks"
	"github.com/charlesng35/socialcounter/internal/notifications"
	"github.com/charlesng35/socialcounter/internal/scheduler"
	"github.com/charlesng35/socialcounter/internal/services"
	"github.com/charlesng35/socialcounter/internal/sources"
	"github.com/charlesng35/socialcounter/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB          *gorm.DB
	Redis       *cache.RedisStore
	Hub         *notifications.Hub
	AMQP        *notifications.AMQPPublisher
	Credentials *credentials.Manager
	Scheduler   *scheduler.RefreshScheduler
	Cleaner     *maintenance.Cleaner
	RateStore   middleware.RateStore
	Router      *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, background jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	cacheOpts := []cache.Option{cache.WithTTLPolicy(cfg.Cache.TTLPolicy())}
	if stack.Redis != nil {
		cacheOpts = append(cacheOpts, cache.WithHotStore(stack.Redis))
	}
	metricCache, err := cache.NewMetricCache(stack.DB, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise metric cache: %w", err)
	}

	httpClient := sources.NewHTTPClient(cfg.Sources.HTTPConfig())

	stack.Credentials, err = buildCredentialManager(stack.DB, cfg, httpClient.StandardClient())
	if err != nil {
		return nil, err
	}

	registry := buildSourceRegistry(cfg, httpClient, stack.Credentials)
	metricSvc, err := services.NewMetricService(metricCache, registry)
	if err != nil {
		return nil, fmt.Errorf("initialise metric service: %w", err)
	}

	var sinks []notifications.Sink
	if cfg.Notifications.Realtime.Enabled {
		stack.Hub = notifications.NewHub()
		sinks = append(sinks, stack.Hub)
	}
	if cfg.Notifications.AMQP.Enabled {
		if stack.AMQP, err = notifications.DialAMQP(cfg.Notifications.PublisherConfig()); err != nil {
			log.Warn("amqp misconfigured; broker notifications disabled", zap.Error(err))
			stack.AMQP = nil
		} else {
			sinks = append(sinks, stack.AMQP)
		}
	}

	store, err := scheduler.NewStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise schedule store: %w", err)
	}

	var sink notifications.Sink
	if len(sinks) > 0 {
		sink = notifications.NewFanout(sinks...)
	}
	stack.Scheduler, err = scheduler.New(store, metricSvc, sink,
		scheduler.WithTickSpec(cfg.Scheduler.Tick),
		scheduler.WithBatchSize(cfg.Scheduler.BatchSize),
		scheduler.WithDueLimit(cfg.Scheduler.DueLimit),
		scheduler.WithAnchorToSchedule(cfg.Scheduler.AnchorToSchedule),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise scheduler: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(metricCache,
		maintenance.WithCacheSchedule(cfg.Maintenance.CachePurgeSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	if err := stack.Credentials.Start(); err != nil {
		return nil, fmt.Errorf("start credential manager: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := stack.Scheduler.Start(); err != nil {
			return nil, fmt.Errorf("start scheduler: %w", err)
		}
	}

	if stack.Redis != nil {
		stack.RateStore = middleware.NewRedisRateStore(stack.Redis)
	} else {
		stack.RateStore = middleware.NewMemoryRateStore()
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:          stack.DB,
		Config:      cfg,
		Metrics:     metricSvc,
		Cache:       metricCache,
		Schedules:   store,
		Scheduler:   stack.Scheduler,
		Credentials: []*credentials.Manager{stack.Credentials},
		Hub:         stack.Hub,
		RateStore:   stack.RateStore,
		Health:      stack.healthManager(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildCredentialManager wires the token store, its read-through cache and the
// exchanger. Missing app credentials leave renewal disabled.
func buildCredentialManager(db *gorm.DB, cfg *app.Config, client *http.Client) (*credentials.Manager, error) {
	dbStore, err := credentials.NewDBStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise credential store: %w", err)
	}
	cached := credentials.NewCachedStore(dbStore, cfg.Credentials.CacheTTL)

	var exchanger credentials.Exchanger
	if graph := credentials.NewGraphExchanger(cfg.Credentials.ExchangerConfig(client)); graph != nil {
		exchanger = graph
	} else {
		logger.WithModule("credentials").Warn("app id or secret missing; automatic token renewal disabled")
	}

	manager, err := credentials.NewManager(cached, exchanger, cfg.Credentials.ManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise credential manager: %w", err)
	}
	return manager, nil
}

// buildSourceRegistry registers one source per supported platform.
func buildSourceRegistry(cfg *app.Config, client *retryablehttp.Client, tokens sources.TokenProvider) *sources.Registry {
	youtube := sources.NewYouTubeSource(
		sources.NewYouTubeDataAPI(client, cfg.Sources.YouTube.BaseURL, strings.TrimSpace(cfg.Sources.YouTube.APIKey)),
	)

	var graph *sources.InstagramGraphAPI
	if accountID := strings.TrimSpace(cfg.Sources.Instagram.BusinessAccountID); accountID != "" {
		graph = sources.NewInstagramGraphAPI(client, cfg.Sources.Instagram.GraphURL, accountID, tokens)
	}
	instagram := sources.NewInstagramSource(graph, sources.NewInstagramWeb(client, cfg.Sources.Instagram.WebURL))

	return sources.NewRegistry(youtube, instagram)
}

func (s *runtimeStack) healthManager(cfg *app.Config) *monitoring.HealthManager {
	health := monitoring.NewHealthManager(0)
	health.Register(
		checks.Database(s.DB),
		checks.Scheduler(s.Scheduler, cfg.Scheduler.Enabled),
		checks.Credentials(s.Credentials),
	)
	if s.Redis != nil {
		health.Register(checks.Redis(s.Redis, cfg.Cache.Redis.Enabled))
	} else {
		health.Register(checks.Redis(nil, cfg.Cache.Redis.Enabled))
	}
	if s.AMQP != nil {
		health.Register(checks.Broker(s.AMQP, cfg.Notifications.AMQP.Enabled))
	} else {
		health.Register(checks.Broker(nil, cfg.Notifications.AMQP.Enabled))
	}
	if s.Hub != nil {
		health.Register(checks.Realtime(s.Hub))
	}
	return health
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		waitFor(ctx, s.Scheduler.Stop())
	}

	if s.Credentials != nil {
		waitFor(ctx, s.Credentials.Stop())
	}

	if s.Cleaner != nil {
		waitFor(ctx, s.Cleaner.Stop())
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Hub != nil {
		s.Hub.Close()
	}

	if s.AMQP != nil {
		if err := s.AMQP.Close(); err != nil {
			log.Warn("amqp shutdown", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

// waitFor blocks until done finishes or ctx expires.
func waitFor(ctx, done context.Context) {
	if done == nil {
		return
	}
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
