package credentials

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/socialcounter/internal/models"
)

// DefaultCacheTTL bounds how long an in-process copy of a credential is trusted.
const DefaultCacheTTL = 5 * time.Minute

// Store persists one credential per platform identity.
type Store interface {
	// Get returns nil without error when no credential exists.
	Get(ctx context.Context, platform string) (*models.PlatformToken, error)
	Save(ctx context.Context, platform, token string, expiresAt time.Time) (*models.PlatformToken, error)
}

// DBStore keeps credentials in the platform_tokens table.
type DBStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDBStore constructs a DBStore.
func NewDBStore(db *gorm.DB) (*DBStore, error) {
	if db == nil {
		return nil, errors.New("credential store: db is required")
	}
	return &DBStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Get implements Store.
func (s *DBStore) Get(ctx context.Context, platform string) (*models.PlatformToken, error) {
	var token models.PlatformToken
	err := s.db.WithContext(ctx).Where("platform = ?", normalizePlatform(platform)).Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// Save implements Store as an upsert on the platform column.
func (s *DBStore) Save(ctx context.Context, platform, token string, expiresAt time.Time) (*models.PlatformToken, error) {
	now := s.now()
	record := models.PlatformToken{
		BaseModel:   models.BaseModel{CreatedAt: now, UpdatedAt: now},
		Platform:    normalizePlatform(platform),
		AccessToken: token,
		ExpiresAt:   expiresAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "expires_at", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, record.Platform)
}

// CachedStore is a read-through cache in front of a Store. Entries live for
// the configured TTL and are replaced on every write. A read that raced with
// a write never repopulates the cache with what it loaded.
type CachedStore struct {
	inner Store
	ttl   time.Duration
	now   func() time.Time

	mu          sync.Mutex
	entries     map[string]cachedToken
	generations map[string]uint64
}

type cachedToken struct {
	token    *models.PlatformToken
	loadedAt time.Time
}

// NewCachedStore wraps inner. A non-positive ttl selects DefaultCacheTTL.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		inner:       inner,
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]cachedToken),
		generations: make(map[string]uint64),
	}
}

// Get implements Store.
func (c *CachedStore) Get(ctx context.Context, platform string) (*models.PlatformToken, error) {
	platform = normalizePlatform(platform)
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[platform]
	generation := c.generations[platform]
	c.mu.Unlock()
	if ok && now.Sub(entry.loadedAt) < c.ttl {
		return cloneToken(entry.token), nil
	}

	token, err := c.inner.Get(ctx, platform)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.generations[platform] == generation {
		c.entries[platform] = cachedToken{token: cloneToken(token), loadedAt: now}
	}
	c.mu.Unlock()
	return token, nil
}

// Save implements Store. The cached copy is invalidated before the write and
// replaced with the stored row after it.
func (c *CachedStore) Save(ctx context.Context, platform, token string, expiresAt time.Time) (*models.PlatformToken, error) {
	platform = normalizePlatform(platform)
	c.Invalidate(platform)

	saved, err := c.inner.Save(ctx, platform, token, expiresAt)
	if err != nil {
		c.Invalidate(platform)
		return nil, err
	}
	c.mu.Lock()
	c.generations[platform]++
	c.entries[platform] = cachedToken{token: cloneToken(saved), loadedAt: c.now()}
	c.mu.Unlock()
	return saved, nil
}

// Invalidate drops the cached copy for platform. Reads already in flight will
// not repopulate it.
func (c *CachedStore) Invalidate(platform string) {
	platform = normalizePlatform(platform)
	c.mu.Lock()
	c.generations[platform]++
	delete(c.entries, platform)
	c.mu.Unlock()
}

func cloneToken(token *models.PlatformToken) *models.PlatformToken {
	if token == nil {
		return nil
	}
	cpy := *token
	return &cpy
}

func normalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
