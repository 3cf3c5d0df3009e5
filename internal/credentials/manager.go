package credentials

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/socialcounter/internal/models"
	apperrors "github.com/charlesng35/socialcounter/pkg/errors"
	"github.com/charlesng35/socialcounter/pkg/logger"
	"github.com/charlesng35/socialcounter/pkg/metrics"
)

const (
	// DefaultPlatform is the identity whose credential is managed when none is configured.
	DefaultPlatform = "instagram"
	// DefaultRefreshThreshold renews a credential once fewer than ten days remain.
	DefaultRefreshThreshold = 10 * 24 * time.Hour
	// DefaultLifetime is assumed when the exchange does not report an expiry.
	DefaultLifetime = 60 * 24 * time.Hour

	defaultCheckSpec = "@every 24h"
)

var (
	// ErrNotConfigured is returned by Refresh when the exchange credentials are missing.
	ErrNotConfigured = apperrors.New("CREDENTIALS_NOT_CONFIGURED", "Token refresh credentials are not configured", http.StatusServiceUnavailable)
	// ErrRefreshFailed wraps an unsuccessful exchange.
	ErrRefreshFailed = apperrors.New("TOKEN_REFRESH_FAILED", "Failed to refresh access token", http.StatusInternalServerError)
)

// Config tunes the lifecycle manager.
type Config struct {
	Platform         string
	RefreshThreshold time.Duration
	DefaultLifetime  time.Duration
	CheckSpec        string
	// BootstrapToken is used, and persisted, when the store holds no credential yet.
	BootstrapToken string
}

// Status describes the managed credential for operators.
type Status struct {
	Platform        string     `json:"platform"`
	HasToken        bool       `json:"has_token"`
	IsExpiringSoon  bool       `json:"is_expiring_soon"`
	NeedsRefresh    bool       `json:"needs_refresh"`
	ExpiresAt       *time.Time `json:"expires_at"`
	DaysUntilExpiry *int       `json:"days_until_expiry"`
	CreatedAt       *time.Time `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

// Manager keeps a single platform credential valid by renewing it before it expires.
type Manager struct {
	store     *CachedStore
	exchanger Exchanger
	cfg       Config
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger

	refreshMu sync.Mutex

	mu       sync.Mutex
	running  bool
	entryID  cron.EntryID
	inflight sync.WaitGroup
}

// Option customises the manager.
type Option func(*Manager)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(m *Manager) {
		if c != nil {
			m.cron = c
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = func() time.Time { return now().UTC() }
			m.store.now = m.now
		}
	}
}

// NewManager constructs a Manager. A nil exchanger disables renewal; status
// reporting and manual updates keep working.
func NewManager(store *CachedStore, exchanger Exchanger, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("credential manager: store is required")
	}
	cfg.Platform = normalizePlatform(cfg.Platform)
	if cfg.Platform == "" {
		cfg.Platform = DefaultPlatform
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.DefaultLifetime <= 0 {
		cfg.DefaultLifetime = DefaultLifetime
	}
	if strings.TrimSpace(cfg.CheckSpec) == "" {
		cfg.CheckSpec = defaultCheckSpec
	}

	m := &Manager{
		store:     store,
		exchanger: exchanger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.WithModule("credentials").With(zap.String("platform", cfg.Platform)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cron == nil {
		m.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	return m, nil
}

// Platform returns the managed identity.
func (m *Manager) Platform() string {
	return m.cfg.Platform
}

// Configured reports whether renewal is possible.
func (m *Manager) Configured() bool {
	return m.exchanger != nil
}

// IsExpiringSoon reports whether the credential is missing or has less than
// the refresh threshold left.
func (m *Manager) IsExpiringSoon(ctx context.Context) (bool, error) {
	token, err := m.store.Get(ctx, m.cfg.Platform)
	if err != nil {
		return false, apperrors.NewStore("load credential", err)
	}
	return m.expiringSoon(token), nil
}

func (m *Manager) expiringSoon(token *models.PlatformToken) bool {
	if token == nil {
		return true
	}
	return token.Remaining(m.now()) < m.cfg.RefreshThreshold
}

// Refresh exchanges the current credential for a renewed one and persists it.
func (m *Manager) Refresh(ctx context.Context) (*models.PlatformToken, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if m.exchanger == nil {
		metrics.TokenRefreshes.WithLabelValues(m.cfg.Platform, "skipped").Inc()
		return nil, ErrNotConfigured
	}

	current, err := m.Token(ctx)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(m.cfg.Platform, "failure").Inc()
		return nil, err
	}

	exchanged, err := m.exchanger.Exchange(ctx, current)
	if err == nil && (exchanged == nil || strings.TrimSpace(exchanged.AccessToken) == "") {
		err = errors.New("token exchange returned no access token")
	}
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(m.cfg.Platform, "failure").Inc()
		m.log.Error("token refresh failed", zap.Error(err))
		return nil, ErrRefreshFailed.WithInternal(err)
	}

	lifetime := exchanged.ExpiresIn
	if lifetime <= 0 {
		lifetime = m.cfg.DefaultLifetime
	}
	expiresAt := m.now().Add(lifetime)

	saved, err := m.store.Save(ctx, m.cfg.Platform, exchanged.AccessToken, expiresAt)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(m.cfg.Platform, "failure").Inc()
		return nil, apperrors.NewStore("save refreshed credential", err)
	}

	metrics.TokenRefreshes.WithLabelValues(m.cfg.Platform, "success").Inc()
	m.log.Info("access token refreshed", zap.Time("expires_at", saved.ExpiresAt))
	return saved, nil
}

// CheckAndRefreshIfNeeded renews the credential when it is close to expiry.
// It reports whether a renewal happened.
func (m *Manager) CheckAndRefreshIfNeeded(ctx context.Context) (bool, error) {
	if !m.Configured() {
		m.log.Debug("token refresh not configured, check skipped")
		return false, nil
	}

	expiring, err := m.IsExpiringSoon(ctx)
	if err != nil {
		return false, err
	}
	if !expiring {
		m.log.Debug("access token still valid")
		return false, nil
	}

	m.log.Info("access token expiring soon, refreshing")
	if _, err := m.Refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Status reports the credential state without exposing the token itself.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	token, err := m.store.Get(ctx, m.cfg.Platform)
	if err != nil {
		return Status{}, apperrors.NewStore("load credential", err)
	}

	expiring := m.expiringSoon(token)
	status := Status{
		Platform:       m.cfg.Platform,
		HasToken:       token != nil,
		IsExpiringSoon: expiring,
		NeedsRefresh:   expiring,
	}
	if token == nil {
		return status, nil
	}

	expiresAt := token.ExpiresAt.UTC()
	createdAt := token.CreatedAt.UTC()
	updatedAt := token.UpdatedAt.UTC()
	days := int(math.Floor(token.Remaining(m.now()).Hours() / 24))
	status.ExpiresAt = &expiresAt
	status.CreatedAt = &createdAt
	status.UpdatedAt = &updatedAt
	status.DaysUntilExpiry = &days
	return status, nil
}

// UpdateToken stores a credential supplied by an operator. A zero expiresAt
// selects the default lifetime.
func (m *Manager) UpdateToken(ctx context.Context, token string, expiresAt time.Time) (*models.PlatformToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.NewValidation("access_token is required")
	}
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(m.cfg.DefaultLifetime)
	}
	if !expiresAt.After(m.now()) {
		return nil, apperrors.NewValidation("expires_at must be in the future")
	}

	saved, err := m.store.Save(ctx, m.cfg.Platform, token, expiresAt)
	if err != nil {
		return nil, apperrors.NewStore("save credential", err)
	}
	m.log.Info("access token updated", zap.Time("expires_at", saved.ExpiresAt))
	return saved, nil
}

// Token returns the current access token. When nothing is stored yet the
// bootstrap token is persisted with the default lifetime and returned.
func (m *Manager) Token(ctx context.Context) (string, error) {
	token, err := m.store.Get(ctx, m.cfg.Platform)
	if err != nil {
		return "", apperrors.NewStore("load credential", err)
	}
	if token != nil {
		return token.AccessToken, nil
	}

	bootstrap := strings.TrimSpace(m.cfg.BootstrapToken)
	if bootstrap == "" {
		return "", apperrors.NewNotFound("no access token stored for " + m.cfg.Platform)
	}
	if _, err := m.store.Save(ctx, m.cfg.Platform, bootstrap, m.now().Add(m.cfg.DefaultLifetime)); err != nil {
		m.log.Warn("persist bootstrap token failed", zap.Error(err))
	} else {
		m.log.Info("bootstrap token migrated to store")
	}
	return bootstrap, nil
}

// Start runs a check immediately and then on the configured period.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	id, err := m.cron.AddFunc(m.cfg.CheckSpec, m.check)
	if err != nil {
		return err
	}
	m.entryID = id
	m.running = true
	m.cron.Start()

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.check()
	}()

	m.log.Info("credential check started", zap.String("schedule", m.cfg.CheckSpec))
	return nil
}

// Stop disarms the periodic check. The returned context is done once any
// running check has finished.
func (m *Manager) Stop() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	m.running = false
	m.cron.Remove(m.entryID)
	cronCtx := m.cron.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		m.inflight.Wait()
		cancel()
	}()
	return ctx
}

func (m *Manager) check() {
	if _, err := m.CheckAndRefreshIfNeeded(context.Background()); err != nil {
		m.log.Error("credential check failed", zap.Error(err))
	}
}
