package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/socialcounter/internal/database/testutil"
	"github.com/charlesng35/socialcounter/internal/models"
	apperrors "github.com/charlesng35/socialcounter/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type stubExchanger struct {
	mu     sync.Mutex
	calls  []string
	result *Exchanged
	err    error
}

func (s *stubExchanger) Exchange(_ context.Context, current string) (*Exchanged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, current)
	return s.result, s.err
}

// countingStore records how often the durable store is read.
type countingStore struct {
	Store
	mu    sync.Mutex
	reads int
}

func (c *countingStore) Get(ctx context.Context, platform string) (*models.PlatformToken, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Store.Get(ctx, platform)
}

func (c *countingStore) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type harness struct {
	clock    *fakeClock
	durable  *countingStore
	cached   *CachedStore
	exchange *stubExchanger
	manager  *Manager
}

func newHarness(t *testing.T, cfg Config, withExchanger bool) *harness {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	dbStore, err := NewDBStore(db)
	require.NoError(t, err)

	h := &harness{
		clock:    &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		durable:  &countingStore{Store: dbStore},
		exchange: &stubExchanger{result: &Exchanged{AccessToken: "renewed", ExpiresIn: 60 * 24 * time.Hour}},
	}
	h.cached = NewCachedStore(h.durable, 5*time.Minute)

	var exchanger Exchanger
	if withExchanger {
		exchanger = h.exchange
	}
	h.manager, err = NewManager(h.cached, exchanger, cfg, WithNow(h.clock.Now))
	require.NoError(t, err)
	return h
}

func (h *harness) seed(t *testing.T, token string, remaining time.Duration) {
	t.Helper()
	_, err := h.cached.Save(context.Background(), DefaultPlatform, token, h.clock.Now().Add(remaining))
	require.NoError(t, err)
}

func TestIsExpiringSoonThreshold(t *testing.T) {
	cases := []struct {
		name      string
		remaining time.Duration
		seed      bool
		want      bool
	}{
		{"missing credential", 0, false, true},
		{"five days left", 5 * 24 * time.Hour, true, true},
		{"just under threshold", 10*24*time.Hour - time.Minute, true, true},
		{"exactly threshold", 10 * 24 * time.Hour, true, false},
		{"sixty days left", 60 * 24 * time.Hour, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Config{}, true)
			if tc.seed {
				h.seed(t, "tok", tc.remaining)
			}
			got, err := h.manager.IsExpiringSoon(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestStatusReportsExpiry(t *testing.T) {
	h := newHarness(t, Config{}, true)
	ctx := context.Background()

	status, err := h.manager.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.HasToken)
	require.True(t, status.NeedsRefresh)
	require.True(t, status.IsExpiringSoon)
	require.Nil(t, status.DaysUntilExpiry)
	require.Nil(t, status.ExpiresAt)

	h.seed(t, "tok", 5*24*time.Hour+6*time.Hour)
	status, err = h.manager.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.HasToken)
	require.True(t, status.NeedsRefresh)
	require.Equal(t, status.NeedsRefresh, status.IsExpiringSoon)
	require.NotNil(t, status.DaysUntilExpiry)
	require.Equal(t, 5, *status.DaysUntilExpiry)
	require.NotNil(t, status.ExpiresAt)

	h.seed(t, "tok", 60*24*time.Hour)
	status, err = h.manager.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.NeedsRefresh)
	require.Equal(t, 60, *status.DaysUntilExpiry)

	payload, err := json.Marshal(status)
	require.NoError(t, err)
	require.NotContains(t, string(payload), "access_token")
}

func TestRefreshPersistsAndInvalidatesCache(t *testing.T) {
	h := newHarness(t, Config{}, true)
	ctx := context.Background()
	h.seed(t, "old", 5*24*time.Hour)

	token, err := h.manager.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "old", token)

	saved, err := h.manager.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "renewed", saved.AccessToken)
	require.Equal(t, []string{"old"}, h.exchange.calls)

	token, err = h.manager.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "renewed", token)

	expiring, err := h.manager.IsExpiringSoon(ctx)
	require.NoError(t, err)
	require.False(t, expiring)
}

func TestRefreshDefaultsLifetime(t *testing.T) {
	h := newHarness(t, Config{}, true)
	h.exchange.result = &Exchanged{AccessToken: "renewed"}
	h.seed(t, "old", time.Hour)

	saved, err := h.manager.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, saved.ExpiresAt.Equal(h.clock.Now().Add(DefaultLifetime)))
}

func TestRefreshFailures(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t, Config{}, false)
		_, err := h.manager.Refresh(context.Background())
		require.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("no current token", func(t *testing.T) {
		h := newHarness(t, Config{}, true)
		_, err := h.manager.Refresh(context.Background())
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		require.Empty(t, h.exchange.calls)
	})

	t.Run("exchange error keeps old token", func(t *testing.T) {
		h := newHarness(t, Config{}, true)
		h.exchange.err = errors.New("upstream down")
		h.seed(t, "old", 2*24*time.Hour)

		_, err := h.manager.Refresh(context.Background())
		require.ErrorIs(t, err, ErrRefreshFailed)

		token, err := h.manager.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "old", token)
	})
}

func TestCheckAndRefreshIfNeeded(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, Config{}, true)
	h.seed(t, "old", 60*24*time.Hour)
	refreshed, err := h.manager.CheckAndRefreshIfNeeded(ctx)
	require.NoError(t, err)
	require.False(t, refreshed)
	require.Empty(t, h.exchange.calls)

	h.clock.Advance(55 * 24 * time.Hour)
	refreshed, err = h.manager.CheckAndRefreshIfNeeded(ctx)
	require.NoError(t, err)
	require.True(t, refreshed)
	require.Len(t, h.exchange.calls, 1)

	unconfigured := newHarness(t, Config{}, false)
	refreshed, err = unconfigured.manager.CheckAndRefreshIfNeeded(ctx)
	require.NoError(t, err)
	require.False(t, refreshed)
}

func TestTokenMigratesBootstrap(t *testing.T) {
	h := newHarness(t, Config{BootstrapToken: "from-env"}, true)
	ctx := context.Background()

	token, err := h.manager.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "from-env", token)

	stored, err := h.durable.Get(ctx, DefaultPlatform)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "from-env", stored.AccessToken)
	require.True(t, stored.ExpiresAt.Equal(h.clock.Now().Add(DefaultLifetime)))
}

func TestUpdateTokenValidation(t *testing.T) {
	h := newHarness(t, Config{}, true)
	ctx := context.Background()

	_, err := h.manager.UpdateToken(ctx, " ", time.Time{})
	require.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = h.manager.UpdateToken(ctx, "tok", h.clock.Now().Add(-time.Hour))
	require.ErrorIs(t, err, apperrors.ErrValidation)

	saved, err := h.manager.UpdateToken(ctx, "manual", time.Time{})
	require.NoError(t, err)
	require.Equal(t, "manual", saved.AccessToken)
	require.True(t, saved.ExpiresAt.Equal(h.clock.Now().Add(DefaultLifetime)))

	saved, err = h.manager.UpdateToken(ctx, "manual-2", h.clock.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "manual-2", saved.AccessToken)

	token, err := h.manager.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "manual-2", token)
}

func TestCachedStoreWindow(t *testing.T) {
	h := newHarness(t, Config{}, true)
	ctx := context.Background()
	h.seed(t, "tok", 30*24*time.Hour)
	h.cached.Invalidate(DefaultPlatform)

	before := h.durable.Reads()
	for i := 0; i < 3; i++ {
		_, err := h.cached.Get(ctx, DefaultPlatform)
		require.NoError(t, err)
	}
	require.Equal(t, before+1, h.durable.Reads())

	h.clock.Advance(5 * time.Minute)
	_, err := h.cached.Get(ctx, DefaultPlatform)
	require.NoError(t, err)
	require.Equal(t, before+2, h.durable.Reads())
}

// gatedStore blocks the first Get until release is closed.
type gatedStore struct {
	Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, platform string) (*models.PlatformToken, error) {
	token, err := g.Store.Get(ctx, platform)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return token, err
}

func TestCachedStoreIgnoresReadRacingWrite(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	dbStore, err := NewDBStore(db)
	require.NoError(t, err)
	ctx := context.Background()
	expiresAt := time.Now().Add(30 * 24 * time.Hour)
	_, err = dbStore.Save(ctx, DefaultPlatform, "old", expiresAt)
	require.NoError(t, err)

	gated := &gatedStore{Store: dbStore, entered: make(chan struct{}), release: make(chan struct{})}
	cached := NewCachedStore(gated, time.Hour)

	done := make(chan *models.PlatformToken, 1)
	go func() {
		token, err := cached.Get(ctx, DefaultPlatform)
		if err != nil {
			token = nil
		}
		done <- token
	}()
	<-gated.entered

	_, err = cached.Save(ctx, DefaultPlatform, "new", expiresAt)
	require.NoError(t, err)
	close(gated.release)

	raced := <-done
	require.NotNil(t, raced)
	require.Equal(t, "old", raced.AccessToken)

	token, err := cached.Get(ctx, DefaultPlatform)
	require.NoError(t, err)
	require.Equal(t, "new", token.AccessToken)

	cached.Invalidate(DefaultPlatform)
	token, err = cached.Get(ctx, DefaultPlatform)
	require.NoError(t, err)
	require.Equal(t, "new", token.AccessToken)
}

func TestStartRunsImmediateCheck(t *testing.T) {
	h := newHarness(t, Config{}, true)
	h.seed(t, "old", 24*time.Hour)

	require.NoError(t, h.manager.Start())
	require.NoError(t, h.manager.Start())
	stopped := h.manager.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}

	h.exchange.mu.Lock()
	calls := len(h.exchange.calls)
	h.exchange.mu.Unlock()
	require.Equal(t, 1, calls)

	select {
	case <-h.manager.Stop().Done():
	default:
		t.Fatal("stopping an idle manager must return a done context")
	}
}

func TestGraphExchanger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/access_token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "fb_exchange_token", r.Form.Get("grant_type"))
		require.Equal(t, "app-id", r.Form.Get("client_id"))
		require.Equal(t, "app-secret", r.Form.Get("client_secret"))
		if r.Form.Get("fb_exchange_token") != "current" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"long-lived","token_type":"bearer","expires_in":5184000}`))
	}))
	defer server.Close()

	require.Nil(t, NewGraphExchanger(ExchangerConfig{AppID: "app-id"}))

	exchanger := NewGraphExchanger(ExchangerConfig{
		AppID:      "app-id",
		AppSecret:  "app-secret",
		GraphURL:   server.URL,
		HTTPClient: server.Client(),
	})
	require.NotNil(t, exchanger)

	out, err := exchanger.Exchange(context.Background(), "current")
	require.NoError(t, err)
	require.Equal(t, "long-lived", out.AccessToken)
	require.InDelta(t, (60 * 24 * time.Hour).Seconds(), out.ExpiresIn.Seconds(), 60)

	_, err = exchanger.Exchange(context.Background(), "stale")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid OAuth access token")

	_, err = exchanger.Exchange(context.Background(), "")
	require.Error(t, err)
}
