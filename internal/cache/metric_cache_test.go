package cache

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/socialcounter/internal/database/testutil"
	"github.com/charlesng35/socialcounter/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string][]byte{}}
}

func (s *memoryStore) IncrementWithTTL(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("not supported")
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, false, errors.New("redis down")
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func newTestCache(t *testing.T, opts ...Option) (*MetricCache, *fakeClock) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	clock := newFakeClock()
	c, err := NewMetricCache(db, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return c, clock
}

func TestMetricCacheSetThenGet(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	stored := c.Set(ctx, "youtube", "UCabc", "subscribers", big.NewInt(1500), map[string]any{"title": "Channel"}, Origin{RequestID: "req-1"})
	require.NotNil(t, stored)
	require.Equal(t, clock.Now().Add(2*time.Minute), stored.ExpiresAt)

	entry, ok := c.Get(ctx, "youtube", "ucabc", "subscribers")
	require.True(t, ok)
	require.Equal(t, "1500", entry.Value.String())
	require.Equal(t, "Channel", entry.Metadata["title"])
	require.Equal(t, "ucabc", entry.Resource)
}

func TestMetricCacheResourceIsCaseInsensitive(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "instagram", "Some.User", "followers", big.NewInt(10), nil, Origin{})

	_, ok := c.Get(ctx, "instagram", "some.user", "followers")
	require.True(t, ok)
	_, ok = c.Get(ctx, "instagram", "SOME.USER", "followers")
	require.True(t, ok)
}

func TestMetricCacheNewestEntryWins(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "youtube", "chan", "video_count", big.NewInt(1), nil, Origin{})
	clock.Advance(time.Second)
	c.Set(ctx, "youtube", "chan", "video_count", big.NewInt(2), nil, Origin{})

	entry, ok := c.Get(ctx, "youtube", "chan", "video_count")
	require.True(t, ok)
	require.Equal(t, "2", entry.Value.String())

	require.EqualValues(t, 2, c.Stats(ctx).Total, "history is append-only")
}

func TestMetricCacheExpiryUsesTTLTable(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "instagram", "acct", "followers", big.NewInt(5), nil, Origin{})

	clock.Advance(29 * time.Second)
	_, ok := c.Get(ctx, "instagram", "acct", "followers")
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(ctx, "instagram", "acct", "followers")
	require.False(t, ok, "entry expiring exactly now is not returned")
}

func TestMetricCacheLargeValuesRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	huge, ok := new(big.Int).SetString("98765432109876543210987654321", 10)
	require.True(t, ok)
	c.Set(ctx, "youtube", "video", "views", huge, nil, Origin{})

	entry, found := c.Get(ctx, "youtube", "video", "views")
	require.True(t, found)
	require.Zero(t, huge.Cmp(entry.Value))
}

func TestMetricCacheUnknownPlatform(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.Nil(t, c.Set(ctx, "myspace", "tom", "friends", big.NewInt(1), nil, Origin{}))
	_, ok := c.Get(ctx, "myspace", "tom", "friends")
	require.False(t, ok)
	require.Zero(t, c.Stats(ctx).Total)
}

func TestMetricCachePurgeExpired(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "instagram", "a", "followers", big.NewInt(1), nil, Origin{}) // 30s
	c.Set(ctx, "instagram", "a", "posts_count", big.NewInt(1), nil, Origin{}) // 10m

	clock.Advance(30 * time.Second)
	require.Zero(t, c.PurgeExpired(ctx), "rows expiring exactly now are kept")

	clock.Advance(time.Second)
	require.EqualValues(t, 1, c.PurgeExpired(ctx))
	require.Zero(t, c.PurgeExpired(ctx), "purge is idempotent")

	_, ok := c.Get(ctx, "instagram", "a", "posts_count")
	require.True(t, ok)
}

func TestMetricCacheStats(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "instagram", "a", "followers", big.NewInt(1), nil, Origin{})
	c.Set(ctx, "youtube", "b", "subscribers", big.NewInt(2), nil, Origin{})
	c.Set(ctx, "youtube", "b", "video_count", big.NewInt(3), nil, Origin{})
	clock.Advance(time.Minute)

	stats := c.Stats(ctx)
	require.EqualValues(t, 3, stats.Total)
	require.EqualValues(t, 1, stats.Expired)
	require.EqualValues(t, 1, stats.ByPlatform["instagram"])
	require.EqualValues(t, 2, stats.ByPlatform["youtube"])
}

func TestMetricCacheDegradesOnStoreFailure(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	c.Set(ctx, "youtube", "b", "subscribers", big.NewInt(2), nil, Origin{})

	sqlDB, err := c.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, ok := c.Get(ctx, "youtube", "b", "subscribers")
	require.False(t, ok)
	require.Nil(t, c.Set(ctx, "youtube", "b", "subscribers", big.NewInt(3), nil, Origin{}))
	require.Zero(t, c.PurgeExpired(ctx))

	stats := c.Stats(ctx)
	require.Zero(t, stats.Total)
	require.Empty(t, stats.ByPlatform)
}

func TestMetricCacheHotStore(t *testing.T) {
	hot := newMemoryStore()
	c, clock := newTestCache(t, WithHotStore(hot))
	ctx := context.Background()

	c.Set(ctx, "tiktok", "creator", "followers", big.NewInt(77), nil, Origin{})
	require.Len(t, hot.data, 1)

	// Remove the durable row; the hot copy still serves reads.
	require.NoError(t, c.db.Where("1 = 1").Delete(&models.MetricEntry{}).Error)
	entry, ok := c.Get(ctx, "tiktok", "creator", "followers")
	require.True(t, ok)
	require.Equal(t, "77", entry.Value.String())

	// Expired hot copies are ignored even if the store still holds them.
	clock.Advance(3 * time.Minute)
	_, ok = c.Get(ctx, "tiktok", "creator", "followers")
	require.False(t, ok)
}

func TestMetricCacheHotStoreFailureFallsBack(t *testing.T) {
	hot := newMemoryStore()
	hot.failGet = true
	c, _ := newTestCache(t, WithHotStore(hot))
	ctx := context.Background()

	c.Set(ctx, "twitch", "streamer", "live_viewers", big.NewInt(9), nil, Origin{})
	entry, ok := c.Get(ctx, "twitch", "streamer", "live_viewers")
	require.True(t, ok)
	require.Equal(t, "9", entry.Value.String())
}
