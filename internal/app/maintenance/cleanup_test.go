package maintenance

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/socialcounter/internal/cache"
	testutil "github.com/charlesng35/socialcounter/internal/database/testutil"
	"github.com/charlesng35/socialcounter/internal/models"
)

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

type countingPurger struct {
	calls atomic.Int32
}

func (p *countingPurger) PurgeExpired(context.Context) int64 {
	p.calls.Add(1)
	return 0
}

func TestCleanerRunOncePurgesCache(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	clock := &fixedClock{current: time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)}

	metricCache, err := cache.NewMetricCache(db, cache.WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()
	require.NotNil(t, metricCache.Set(ctx, "youtube", "UC1", "subscribers", big.NewInt(10), nil, cache.Origin{}))

	clock.current = clock.current.Add(time.Hour)
	require.NotNil(t, metricCache.Set(ctx, "youtube", "UC2", "subscribers", big.NewInt(20), nil, cache.Origin{}))

	c := NewCleaner(metricCache, WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))))
	require.NoError(t, c.RunOnce(ctx))

	var remaining int64
	require.NoError(t, db.Model(&models.MetricEntry{}).Count(&remaining).Error)
	require.Equal(t, int64(1), remaining)
}

func TestCleanerKeepsExpiredSchedules(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	now := time.Now().UTC()

	metricCache, err := cache.NewMetricCache(db)
	require.NoError(t, err)

	jobs := []models.ScheduledMetric{
		{Platform: "youtube", Resource: "channel", ResourceID: "deactivated", Metric: "subscribers", IntervalSeconds: 60, ExpiresAt: now.AddDate(0, 0, -31), NextRunAt: now},
		{Platform: "youtube", Resource: "channel", ResourceID: "lapsed", Metric: "subscribers", IntervalSeconds: 60, ExpiresAt: now.AddDate(0, 0, -90), NextRunAt: now, IsActive: true},
	}
	for i := range jobs {
		require.NoError(t, db.Create(&jobs[i]).Error)
	}
	require.NoError(t, db.Model(&models.ScheduledMetric{}).Where("resource_id = ?", "deactivated").Update("is_active", false).Error)

	c := NewCleaner(metricCache)
	require.NoError(t, c.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.ScheduledMetric{}).Count(&count).Error)
	require.Equal(t, int64(2), count, "schedules are deactivated, never deleted")
}

func TestCleanerRunOnceHonoursCancelledContext(t *testing.T) {
	purger := &countingPurger{}
	c := NewCleaner(purger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.RunOnce(ctx), context.Canceled)
	require.Equal(t, int32(0), purger.calls.Load())
}

func TestCleanerStartStop(t *testing.T) {
	purger := &countingPurger{}
	c := NewCleaner(purger, WithCacheSchedule("@every 1s"))
	require.NoError(t, c.Start())
	<-c.Stop().Done()

	before := purger.calls.Load()
	require.NoError(t, c.RunOnce(context.Background()))
	require.Equal(t, before+1, purger.calls.Load())

	disabled := NewCleaner(nil)
	require.NoError(t, disabled.Start())
	require.NoError(t, disabled.RunOnce(context.Background()))
}
