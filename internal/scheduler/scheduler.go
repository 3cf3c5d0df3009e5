package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/socialcounter/internal/cache"
	"github.com/charlesng35/socialcounter/internal/models"
	"github.com/charlesng35/socialcounter/internal/notifications"
	"github.com/charlesng35/socialcounter/internal/services"
	"github.com/charlesng35/socialcounter/pkg/logger"
	"github.com/charlesng35/socialcounter/pkg/metrics"
)

const (
	defaultTickSpec  = "@every 60s"
	defaultBatchSize = 10
)

// Fetcher reads one counter, going through the cache first.
type Fetcher interface {
	Fetch(ctx context.Context, req services.FetchRequest) (*services.FetchResult, error)
}

// Report summarises one scheduler pass. Skipped is set when the pass did not
// run because another one was still in progress.
type Report struct {
	Due      int  `json:"due"`
	Fetched  int  `json:"fetched"`
	Failed   int  `json:"failed"`
	Notified int  `json:"notified"`
	Skipped  bool `json:"skipped"`
}

// RefreshScheduler periodically executes due jobs in bounded batches.
type RefreshScheduler struct {
	store   *Store
	fetcher Fetcher
	sink    notifications.Sink
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	tickSpec  string
	batchSize int
	dueLimit  int
	anchored  bool

	mu       sync.Mutex
	running  bool
	entryID  cron.EntryID
	tickMu   sync.Mutex
	inflight sync.WaitGroup
}

// Option customises the scheduler.
type Option func(*RefreshScheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *RefreshScheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for due checks and bookkeeping.
func WithNow(now func() time.Time) Option {
	return func(s *RefreshScheduler) {
		if now != nil {
			s.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithTickSpec overrides the cron specification of the polling loop.
func WithTickSpec(spec string) Option {
	return func(s *RefreshScheduler) {
		if spec != "" {
			s.tickSpec = spec
		}
	}
}

// WithBatchSize bounds how many jobs are fetched concurrently.
func WithBatchSize(size int) Option {
	return func(s *RefreshScheduler) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithDueLimit caps how many due jobs a single pass picks up.
func WithDueLimit(limit int) Option {
	return func(s *RefreshScheduler) {
		if limit > 0 {
			s.dueLimit = limit
		}
	}
}

// WithAnchorToSchedule computes the next run from the previous scheduled time
// instead of from the run time, never earlier than the run time.
func WithAnchorToSchedule(enabled bool) Option {
	return func(s *RefreshScheduler) {
		s.anchored = enabled
	}
}

// New constructs a RefreshScheduler. A nil sink disables notifications.
func New(store *Store, fetcher Fetcher, sink notifications.Sink, opts ...Option) (*RefreshScheduler, error) {
	if store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if fetcher == nil {
		return nil, errors.New("scheduler: fetcher is required")
	}

	s := &RefreshScheduler{
		store:     store,
		fetcher:   fetcher,
		sink:      sink,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.WithModule("scheduler"),
		tickSpec:  defaultTickSpec,
		batchSize: defaultBatchSize,
		dueLimit:  defaultDueLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	return s, nil
}

// Start runs one pass immediately and then arms the periodic timer.
// Calling Start on a running scheduler logs a warning and does nothing.
func (s *RefreshScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("scheduler already running")
		return nil
	}

	id, err := s.cron.AddFunc(s.tickSpec, s.tick)
	if err != nil {
		return err
	}
	s.entryID = id
	s.running = true
	s.cron.Start()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.tick()
	}()

	s.log.Info("scheduler started",
		zap.String("tick", s.tickSpec),
		zap.Int("batch_size", s.batchSize),
		zap.Int("due_limit", s.dueLimit),
	)
	return nil
}

// Stop disarms the timer. Passes already in flight are allowed to finish; the
// returned context is done once they have.
func (s *RefreshScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return doneContext()
	}
	s.running = false
	s.cron.Remove(s.entryID)
	cronCtx := s.cron.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.inflight.Wait()
		cancel()
	}()
	s.log.Info("scheduler stopped")
	return ctx
}

// IsRunning reports whether the periodic timer is armed.
func (s *RefreshScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns schedule counts together with the running flag.
func (s *RefreshScheduler) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.store.Stats(ctx, s.now())
	if err != nil {
		return Stats{}, err
	}
	stats.IsRunning = s.IsRunning()
	return stats, nil
}

func (s *RefreshScheduler) tick() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.log.Error("scheduler pass aborted", zap.Error(err))
	}
}

// RunOnce executes a single pass over the due jobs. A pass that overlaps one
// already in progress is skipped and reported as such. Only store failures while selecting jobs are
// returned; per-job failures are recorded and logged.
func (s *RefreshScheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.tickMu.TryLock() {
		s.log.Debug("scheduler pass skipped, previous pass still running")
		return Report{Skipped: true}, nil
	}
	defer s.tickMu.Unlock()

	started := time.Now()
	defer func() {
		metrics.SchedulerTickDuration.Observe(time.Since(started).Seconds())
	}()

	due, err := s.store.FindDue(ctx, s.now(), s.dueLimit)
	if err != nil {
		return Report{}, err
	}
	report := Report{Due: len(due)}
	if len(due) == 0 {
		return report, nil
	}
	s.log.Info("processing scheduled metrics", zap.Int("due", len(due)))

	var fetched, failed, notified atomic.Int64
	for start := 0; start < len(due); start += s.batchSize {
		end := start + s.batchSize
		if end > len(due) {
			end = len(due)
		}

		var group errgroup.Group
		for _, job := range due[start:end] {
			group.Go(func() error {
				outcome := s.runJob(ctx, job)
				if outcome.err != nil {
					failed.Add(1)
				} else {
					fetched.Add(1)
				}
				if outcome.notified {
					notified.Add(1)
				}
				return nil
			})
		}
		_ = group.Wait()
	}

	report.Fetched = int(fetched.Load())
	report.Failed = int(failed.Load())
	report.Notified = int(notified.Load())
	return report, nil
}

type jobOutcome struct {
	err      error
	notified bool
}

func (s *RefreshScheduler) runJob(ctx context.Context, job models.ScheduledMetric) jobOutcome {
	now := s.now()
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("platform", job.Platform),
		zap.String("resource", job.Resource),
		zap.String("resource_id", job.ResourceID),
		zap.String("metric", job.Metric),
	}

	var outcome jobOutcome
	lastValue := job.LastValue

	result, err := s.fetcher.Fetch(ctx, services.FetchRequest{
		Platform:   job.Platform,
		Resource:   job.Resource,
		ResourceID: job.ResourceID,
		Metric:     job.Metric,
		Origin:     cache.Origin{RequestID: job.ID, RequestedBy: "scheduler"},
	})
	if err == nil && (result == nil || result.Value == nil) {
		err = errors.New("fetch returned no value")
	}

	if err != nil {
		outcome.err = err
		metrics.ScheduledRuns.WithLabelValues(job.Platform, "failed").Inc()
		s.log.Warn("scheduled fetch failed", append(fields, zap.Error(err))...)
	} else {
		snapshot := result.Value.String()
		if result.Cached {
			metrics.ScheduledRuns.WithLabelValues(job.Platform, "cached").Inc()
		} else {
			metrics.ScheduledRuns.WithLabelValues(job.Platform, "fetched").Inc()
		}

		if ShouldNotify(job.NotifyOnlyChanged, job.LastValue, snapshot) {
			outcome.notified = s.publish(ctx, job, result, fields)
		} else {
			s.log.Debug("value unchanged, notification skipped", fields...)
		}
		lastValue = &snapshot
	}

	next := NextRun(job, now, s.anchored)
	if err := s.store.RecordRun(ctx, job.ID, lastValue, now, next); err != nil {
		s.log.Error("record scheduled run failed", append(fields, zap.Error(err))...)
	}
	return outcome
}

func (s *RefreshScheduler) publish(ctx context.Context, job models.ScheduledMetric, result *services.FetchResult, fields []zap.Field) bool {
	if s.sink == nil {
		return false
	}
	topic := notifications.Topic{
		Platform:   job.Platform,
		Resource:   job.Resource,
		ResourceID: job.ResourceID,
		Metric:     job.Metric,
	}
	event := notifications.Event{
		Metric:    job.Metric,
		Value:     result.Value,
		Cached:    result.Cached,
		FetchedAt: result.FetchedAt,
		ExpiresAt: result.ExpiresAt,
		Metadata:  result.Metadata,
	}
	if err := s.sink.Publish(ctx, topic, event); err != nil {
		s.log.Warn("notification publish failed", append(fields, zap.Error(err))...)
	}
	return true
}

// ShouldNotify applies the change-only rule. The first observation of a job
// always notifies to establish a baseline.
func ShouldNotify(onlyChanged bool, lastValue *string, snapshot string) bool {
	if !onlyChanged || lastValue == nil {
		return true
	}
	return *lastValue != snapshot
}

// NextRun computes when a job runs next after being evaluated at now.
func NextRun(job models.ScheduledMetric, now time.Time, anchored bool) time.Time {
	interval := job.Interval()
	next := now.Add(interval)
	if anchored {
		next = job.NextRunAt.Add(interval)
		if next.Before(now) {
			next = now
		}
	}
	return next.UTC()
}

func doneContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
