package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/socialcounter/internal/cache"
	"github.com/charlesng35/socialcounter/internal/database/testutil"
	"github.com/charlesng35/socialcounter/internal/models"
	"github.com/charlesng35/socialcounter/internal/notifications"
	"github.com/charlesng35/socialcounter/internal/services"
	"github.com/charlesng35/socialcounter/internal/sources"
	apperrors "github.com/charlesng35/socialcounter/pkg/errors"
)

type fakeSource struct {
	mu       sync.Mutex
	values   map[string]*big.Int
	failures map[string]error
	calls    int
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{values: map[string]*big.Int{}, failures: map[string]error{}}
}

func (s *fakeSource) Platform() string  { return "youtube" }
func (s *fakeSource) Metrics() []string { return []string{"subscribers", "views"} }

func (s *fakeSource) set(resourceID string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[resourceID] = big.NewInt(value)
}

func (s *fakeSource) fail(resourceID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[resourceID] = err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) Fetch(_ context.Context, q sources.Query) (*sources.Result, error) {
	current := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.failures[q.ResourceID]; err != nil {
		return nil, err
	}
	value, ok := s.values[q.ResourceID]
	if !ok {
		return nil, fmt.Errorf("unknown resource %s", q.ResourceID)
	}
	return &sources.Result{Value: new(big.Int).Set(value), Strategy: "fake"}, nil
}

type published struct {
	topic notifications.Topic
	event notifications.Event
}

type recordingSink struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, topic notifications.Topic, event notifications.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, published{topic: topic, event: event})
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) last() published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type harness struct {
	store     *Store
	scheduler *RefreshScheduler
	source    *fakeSource
	sink      *recordingSink
	clock     *fakeClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clock := newFakeClock()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	metricCache, err := cache.NewMetricCache(db, cache.WithClock(clock.Now))
	require.NoError(t, err)
	source := newFakeSource()
	fetcher, err := services.NewMetricService(metricCache, sources.NewRegistry(source))
	require.NoError(t, err)

	store, err := NewStore(db, WithStoreClock(clock.Now))
	require.NoError(t, err)
	sink := &recordingSink{}

	opts = append([]Option{WithNow(clock.Now), WithTickSpec("@every 1h")}, opts...)
	sched, err := New(store, fetcher, sink, opts...)
	require.NoError(t, err)

	return &harness{store: store, scheduler: sched, source: source, sink: sink, clock: clock}
}

func (h *harness) schedule(t *testing.T, resourceID string, intervalMinutes float64, onlyChanged bool) *models.ScheduledMetric {
	t.Helper()
	job, _, err := h.store.Upsert(context.Background(), ScheduleInput{
		Platform:          "youtube",
		Resource:          "channel",
		ResourceID:        resourceID,
		Metric:            "subscribers",
		IntervalMinutes:   intervalMinutes,
		NotifyOnlyChanged: onlyChanged,
	})
	require.NoError(t, err)
	return job
}

func TestRunOnceFetchesAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.schedule(t, "UC100", 1, false)
	h.source.set("UC100", 100)

	report, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 1, Fetched: 1, Notified: 1}, report)

	require.Equal(t, 1, h.sink.count())
	got := h.sink.last()
	require.Equal(t, "social-counter/youtube/channel/UC100/subscribers", got.topic.String())
	require.Equal(t, "subscribers", got.event.Metric)
	require.Equal(t, "100", got.event.Value.String())
	require.False(t, got.event.Cached)

	stored, err := h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastValue)
	require.Equal(t, "100", *stored.LastValue)
	require.NotNil(t, stored.LastFetchedAt)
	require.True(t, stored.NextRunAt.Equal(h.clock.Now().Add(60*time.Second)))

	report, err = h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Due, "job is not due again until its interval elapses")
}

func TestNotifyOnlyChangedBaselineThenChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.schedule(t, "UC1", 1, true)
	h.source.set("UC1", 100)

	_, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.sink.count(), "baseline run always notifies")

	// Same value, served from the cache (youtube:subscribers TTL is 2 minutes).
	h.clock.Advance(61 * time.Second)
	report, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Due)
	require.Equal(t, 0, report.Notified)
	require.Equal(t, 1, h.sink.count())
	require.Equal(t, 1, h.source.callCount())

	// The cache entry has expired and the upstream value changed.
	h.source.set("UC1", 150)
	h.clock.Advance(2 * time.Minute)
	report, err = h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Notified)
	require.Equal(t, 2, h.sink.count())
	require.Equal(t, "150", h.sink.last().event.Value.String())
	require.Equal(t, 2, h.source.callCount())
}

func TestSameValueWithoutChangeFilterNotifiesEveryRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.schedule(t, "UC1", 1, false)
	h.source.set("UC1", 100)

	_, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	h.clock.Advance(61 * time.Second)
	_, err = h.scheduler.RunOnce(ctx)
	require.NoError(t, err)

	require.Equal(t, 2, h.sink.count())
	require.True(t, h.sink.last().event.Cached)
}

func TestFailedFetchStillRecordsRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	failing := h.schedule(t, "broken", 5, false)
	healthy := h.schedule(t, "healthy", 5, false)
	h.source.fail("broken", errors.New("upstream 503"))
	h.source.set("healthy", 7)

	previous := "41"
	require.NoError(t, h.store.RecordRun(ctx, failing.ID, &previous, h.clock.Now(), h.clock.Now()))

	report, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 2, Fetched: 1, Failed: 1, Notified: 1}, report)

	stored, err := h.store.Get(ctx, failing.ID)
	require.NoError(t, err)
	require.True(t, stored.NextRunAt.Equal(h.clock.Now().Add(5*time.Minute)))
	require.NotNil(t, stored.LastValue)
	require.Equal(t, "41", *stored.LastValue, "prior value is kept on failure")

	ok, err := h.store.Get(ctx, healthy.ID)
	require.NoError(t, err)
	require.Equal(t, "7", *ok.LastValue)
	require.Equal(t, 1, h.sink.count())
}

func TestPublishFailureDoesNotAffectBookkeeping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.schedule(t, "UC1", 1, false)
	h.source.set("UC1", 5)
	h.sink.err = errors.New("broker unavailable")

	report, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Fetched)

	stored, err := h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "5", *stored.LastValue)
}

func TestBatchesBoundConcurrency(t *testing.T) {
	h := newHarness(t, WithBatchSize(4), WithDueLimit(10))
	ctx := context.Background()
	h.source.delay = 20 * time.Millisecond
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("UC%02d", i)
		h.schedule(t, id, 5, false)
		h.source.set(id, int64(i))
	}

	report, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, report.Due)
	require.Equal(t, 10, report.Fetched)
	require.LessOrEqual(t, h.source.peak.Load(), int32(4))

	report, err = h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Due)
}

func TestOverlappingPassIsReportedSkipped(t *testing.T) {
	h := newHarness(t)
	h.schedule(t, "UC1", 5, false)
	h.source.set("UC1", 10)

	h.scheduler.tickMu.Lock()
	report, err := h.scheduler.RunOnce(context.Background())
	h.scheduler.tickMu.Unlock()
	require.NoError(t, err)
	require.Equal(t, Report{Skipped: true}, report)
	require.Zero(t, h.source.callCount())

	report, err = h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.Equal(t, 1, report.Due)
	require.Equal(t, 1, report.Fetched)
}

func TestStoreFailureAbortsPass(t *testing.T) {
	clock := newFakeClock()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	metricCache, err := cache.NewMetricCache(db, cache.WithClock(clock.Now))
	require.NoError(t, err)
	fetcher, err := services.NewMetricService(metricCache, sources.NewRegistry(newFakeSource()))
	require.NoError(t, err)
	store, err := NewStore(db, WithStoreClock(clock.Now))
	require.NoError(t, err)
	sched, err := New(store, fetcher, nil, WithNow(clock.Now))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = sched.RunOnce(context.Background())
	require.True(t, errors.Is(err, apperrors.ErrStore))
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	job := h.schedule(t, "UC1", 1, false)
	h.source.set("UC1", 9)

	require.False(t, h.scheduler.IsRunning())
	require.NoError(t, h.scheduler.Start())
	require.NoError(t, h.scheduler.Start(), "second start is a no-op")
	require.True(t, h.scheduler.IsRunning())

	stats, err := h.scheduler.Stats(context.Background())
	require.NoError(t, err)
	require.True(t, stats.IsRunning)
	require.Equal(t, int64(1), stats.Total)

	stopCtx := h.scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.False(t, h.scheduler.IsRunning())

	// The immediate pass ran before Stop returned its done context.
	stored, err := h.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastValue)
	require.Equal(t, 1, h.sink.count())

	select {
	case <-h.scheduler.Stop().Done():
	default:
		t.Fatal("stopping an idle scheduler returns a done context")
	}
}

func TestShouldNotify(t *testing.T) {
	same := "100"
	require.True(t, ShouldNotify(false, &same, "100"))
	require.True(t, ShouldNotify(true, nil, "100"))
	require.False(t, ShouldNotify(true, &same, "100"))
	require.True(t, ShouldNotify(true, &same, "101"))
}

func TestNextRun(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	job := models.ScheduledMetric{IntervalSeconds: 300, NextRunAt: now.Add(-2 * time.Minute)}

	require.Equal(t, now.Add(5*time.Minute), NextRun(job, now, false))
	require.Equal(t, now.Add(3*time.Minute), NextRun(job, now, true))

	job.NextRunAt = now.Add(-time.Hour)
	require.Equal(t, now, NextRun(job, now, true), "anchored runs never schedule in the past")
}
