package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/socialcounter/pkg/logger"
)

const defaultCacheSpec = "@every 5m"

// CachePurger removes expired cache rows.
type CachePurger interface {
	PurgeExpired(ctx context.Context) int64
}

// Cleaner runs background housekeeping. Today that is purging expired cache
// rows; schedules are only ever deactivated, never removed from here.
type Cleaner struct {
	cache   CachePurger
	cron    *cron.Cron
	log     *zap.Logger
	enabled bool

	cacheSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil purger disables the cache job.
func NewCleaner(purger CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		cache:         purger,
		cacheSchedule: defaultCacheSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.cache != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
		c.purge(context.Background())
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines. Used in tests and during
// graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cache != nil {
		c.purge(ctx)
	}
	return nil
}

func (c *Cleaner) purge(ctx context.Context) {
	if removed := c.cache.PurgeExpired(ctx); removed > 0 {
		c.log.Info("expired cache entries purged", zap.Int64("removed", removed))
	}
}
