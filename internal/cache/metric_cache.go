package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/socialcounter/internal/models"
	"github.com/charlesng35/socialcounter/pkg/logger"
	"github.com/charlesng35/socialcounter/pkg/metrics"
)

// Entry is a cached counter value as seen by callers.
type Entry struct {
	Platform  string         `json:"platform"`
	Resource  string         `json:"resource"`
	Metric    string         `json:"metric"`
	Value     *big.Int       `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Origin records who triggered a cache write.
type Origin struct {
	RequestID   string
	RequestedBy string
}

// Stats summarises the cache table.
type Stats struct {
	Total      int64            `json:"total"`
	Expired    int64            `json:"expired"`
	ByPlatform map[string]int64 `json:"by_platform"`
}

// MetricCache stores fetched counters with a time-to-live. The SQL table is
// the source of truth; an optional hot Store mirrors the newest value per key.
// Every failure degrades to a miss or a no-op.
type MetricCache struct {
	db     *gorm.DB
	hot    Store
	ttl    TTLPolicy
	now    func() time.Time
	log    *zap.Logger
	idByPl sync.Map // platform slug -> platform id
}

// Option customises MetricCache.
type Option func(*MetricCache)

// WithHotStore mirrors entries into a fast key/value store such as Redis.
func WithHotStore(store Store) Option {
	return func(c *MetricCache) {
		c.hot = store
	}
}

// WithTTLPolicy overrides the default TTL table.
func WithTTLPolicy(policy TTLPolicy) Option {
	return func(c *MetricCache) {
		c.ttl = policy
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *MetricCache) {
		if now != nil {
			c.now = func() time.Time { return now().UTC() }
		}
	}
}

// NewMetricCache constructs a MetricCache backed by the provided database.
func NewMetricCache(db *gorm.DB, opts ...Option) (*MetricCache, error) {
	if db == nil {
		return nil, errors.New("metric cache: db is required")
	}
	c := &MetricCache{
		db:  db,
		ttl: DefaultTTLPolicy(),
		now: func() time.Time { return time.Now().UTC() },
		log: logger.WithModule("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL exposes the lifetime applied to a platform and metric.
func (c *MetricCache) TTL(platform, metric string) time.Duration {
	return c.ttl.For(platform, metric)
}

// Get returns the newest unexpired entry for the key.
func (c *MetricCache) Get(ctx context.Context, platform, resource, metric string) (*Entry, bool) {
	platform, resource, metric = normalizeKeyParts(platform, resource, metric)
	now := c.now()

	if entry, ok := c.getHot(ctx, platform, resource, metric, now); ok {
		metrics.CacheLookups.WithLabelValues(platform, "hit").Inc()
		return entry, true
	}

	platformID, ok := c.platformID(ctx, platform)
	if !ok {
		metrics.CacheLookups.WithLabelValues(platform, "miss").Inc()
		return nil, false
	}

	var row models.MetricEntry
	err := c.db.WithContext(ctx).
		Where("platform_id = ? AND resource = ? AND metric = ? AND expires_at > ?", platformID, resource, metric, now).
		Order("fetched_at DESC").
		Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CacheLookups.WithLabelValues(platform, "miss").Inc()
		return nil, false
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues(platform, "error").Inc()
		c.log.Warn("cache read failed",
			zap.String("platform", platform),
			zap.String("resource", resource),
			zap.String("metric", metric),
			zap.Error(err),
		)
		return nil, false
	}

	entry, err := entryFromRow(platform, &row)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(platform, "error").Inc()
		c.log.Warn("cache row unreadable", zap.Uint("id", row.ID), zap.Error(err))
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues(platform, "hit").Inc()
	c.setHot(ctx, entry, now)
	return entry, true
}

// Set appends a new entry whose expiry is derived from the TTL policy.
// It returns the stored entry, or nil when the write was dropped.
func (c *MetricCache) Set(ctx context.Context, platform, resource, metric string, value *big.Int, metadata map[string]any, origin Origin) *Entry {
	platform, resource, metric = normalizeKeyParts(platform, resource, metric)
	if value == nil {
		c.log.Warn("cache write skipped: nil value", zap.String("platform", platform), zap.String("metric", metric))
		return nil
	}

	platformID, ok := c.platformID(ctx, platform)
	if !ok {
		return nil
	}

	now := c.now()
	entry := &Entry{
		Platform:  platform,
		Resource:  resource,
		Metric:    metric,
		Value:     new(big.Int).Set(value),
		Metadata:  metadata,
		FetchedAt: now,
		ExpiresAt: now.Add(c.ttl.For(platform, metric)),
	}

	row := models.MetricEntry{
		PlatformID:  platformID,
		Resource:    resource,
		Metric:      metric,
		Value:       value.String(),
		FetchedAt:   entry.FetchedAt,
		ExpiresAt:   entry.ExpiresAt,
		RequestID:   origin.RequestID,
		RequestedBy: origin.RequestedBy,
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			c.log.Warn("cache metadata dropped", zap.Error(err))
		} else {
			row.Metadata = datatypes.JSON(raw)
		}
	}

	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		c.log.Warn("cache write failed",
			zap.String("platform", platform),
			zap.String("resource", resource),
			zap.String("metric", metric),
			zap.Error(err),
		)
		return nil
	}

	c.setHot(ctx, entry, now)
	return entry
}

// PurgeExpired deletes rows whose expiry is strictly before now and returns how many were removed.
func (c *MetricCache) PurgeExpired(ctx context.Context) int64 {
	result := c.db.WithContext(ctx).Where("expires_at < ?", c.now()).Delete(&models.MetricEntry{})
	if result.Error != nil {
		c.log.Warn("cache purge failed", zap.Error(result.Error))
		return 0
	}
	if result.RowsAffected > 0 {
		metrics.CachePurged.Add(float64(result.RowsAffected))
	}
	return result.RowsAffected
}

// Stats reports row counts. Failures yield zeroed stats.
func (c *MetricCache) Stats(ctx context.Context) Stats {
	stats := Stats{ByPlatform: map[string]int64{}}
	db := c.db.WithContext(ctx)

	var total, expired int64
	if err := db.Model(&models.MetricEntry{}).Count(&total).Error; err != nil {
		c.log.Warn("cache stats failed", zap.Error(err))
		return stats
	}
	if err := db.Model(&models.MetricEntry{}).Where("expires_at < ?", c.now()).Count(&expired).Error; err != nil {
		c.log.Warn("cache stats failed", zap.Error(err))
		return stats
	}

	var rows []struct {
		Slug  string
		Count int64
	}
	err := db.Model(&models.MetricEntry{}).
		Select("platforms.slug AS slug, COUNT(*) AS count").
		Joins("JOIN platforms ON platforms.id = metric_entries.platform_id").
		Group("platforms.slug").
		Scan(&rows).Error
	if err != nil {
		c.log.Warn("cache stats failed", zap.Error(err))
		return stats
	}

	stats.Total = total
	stats.Expired = expired
	for _, row := range rows {
		stats.ByPlatform[row.Slug] = row.Count
	}
	return stats
}

func (c *MetricCache) platformID(ctx context.Context, slug string) (string, bool) {
	if id, ok := c.idByPl.Load(slug); ok {
		return id.(string), true
	}

	var platform models.Platform
	err := c.db.WithContext(ctx).Where("slug = ? AND is_active = ?", slug, true).Take(&platform).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.log.Warn("unknown platform", zap.String("platform", slug))
		return "", false
	}
	if err != nil {
		c.log.Warn("platform lookup failed", zap.String("platform", slug), zap.Error(err))
		return "", false
	}

	c.idByPl.Store(slug, platform.ID)
	return platform.ID, true
}

func (c *MetricCache) getHot(ctx context.Context, platform, resource, metric string, now time.Time) (*Entry, bool) {
	if c.hot == nil {
		return nil, false
	}
	raw, ok, err := c.hot.Get(ctx, hotKey(platform, resource, metric))
	if err != nil {
		c.log.Debug("hot cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Value == nil {
		return nil, false
	}
	if !entry.ExpiresAt.After(now) {
		return nil, false
	}
	return &entry, true
}

func (c *MetricCache) setHot(ctx context.Context, entry *Entry, now time.Time) {
	if c.hot == nil || entry == nil {
		return
	}
	remaining := entry.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.hot.Set(ctx, hotKey(entry.Platform, entry.Resource, entry.Metric), raw, remaining); err != nil {
		c.log.Debug("hot cache write failed", zap.Error(err))
	}
}

func entryFromRow(platform string, row *models.MetricEntry) (*Entry, error) {
	value, ok := row.BigValue()
	if !ok {
		return nil, fmt.Errorf("invalid stored value %q", row.Value)
	}
	entry := &Entry{
		Platform:  platform,
		Resource:  row.Resource,
		Metric:    row.Metric,
		Value:     value,
		FetchedAt: row.FetchedAt,
		ExpiresAt: row.ExpiresAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return entry, nil
}

func hotKey(platform, resource, metric string) string {
	return "metric:" + platform + ":" + resource + ":" + metric
}

func normalizeKeyParts(platform, resource, metric string) (string, string, string) {
	return strings.ToLower(strings.TrimSpace(platform)),
		strings.ToLower(strings.TrimSpace(resource)),
		strings.ToLower(strings.TrimSpace(metric))
}
