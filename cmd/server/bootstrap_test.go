package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/socialcounter/internal/app"
	"github.com/charlesng35/socialcounter/internal/database/testutil"
	"github.com/charlesng35/socialcounter/internal/sources"
)

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Path = " ./data/test.sqlite "
	require.Equal(t, "sqlite", convertDatabaseConfig(cfg).Driver)
	require.Equal(t, "./data/test.sqlite", convertDatabaseConfig(cfg).Path)

	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres = app.DBAuthConfig{Host: "db", Port: 5432, Database: "counter", Username: "app", Password: "secret"}
	pg := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", pg.Driver)
	require.Equal(t, "db", pg.Host)
	require.Equal(t, 5432, pg.Port)
	require.Equal(t, "counter", pg.Name)

	cfg.Database.Driver = "mysql"
	cfg.Database.MySQL = app.DBAuthConfig{Host: "mysql", Port: 3306}
	my := convertDatabaseConfig(cfg)
	require.Equal(t, "mysql", my.Driver)
	require.Equal(t, "mysql", my.Host)

	cfg.Database.Driver = "oracle"
	require.Equal(t, "oracle", convertDatabaseConfig(cfg).Driver)
}

func TestBuildSourceRegistry(t *testing.T) {
	cfg := &app.Config{}
	client := sources.NewHTTPClient(cfg.Sources.HTTPConfig())

	registry := buildSourceRegistry(cfg, client, nil)
	require.Equal(t, []string{"instagram", "youtube"}, registry.Platforms())

	source, err := registry.Get("youtube")
	require.NoError(t, err)
	require.Contains(t, source.Metrics(), "subscribers")
}

func TestBuildCredentialManager(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	cfg := &app.Config{}
	manager, err := buildCredentialManager(db, cfg, http.DefaultClient)
	require.NoError(t, err)
	require.False(t, manager.Configured())
	require.Equal(t, "instagram", manager.Platform())

	cfg.Credentials.AppID = "app"
	cfg.Credentials.AppSecret = "secret"
	manager, err = buildCredentialManager(db, cfg, http.DefaultClient)
	require.NoError(t, err)
	require.True(t, manager.Configured())
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	cfg.Notifications.Realtime.Enabled = true
	cfg.Scheduler.Tick = "@every 1h"
	cfg.Auth.APIKey = "key"

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, stack.Router)
	require.NotNil(t, stack.Hub)
	require.Nil(t, stack.Redis)
	require.Nil(t, stack.AMQP)
	require.False(t, stack.Scheduler.IsRunning())

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"component":"websocket"`)
	require.Contains(t, rec.Body.String(), `"details":"0 connections"`)

	rec = httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/platforms", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stack.Shutdown(ctx, zap.NewNop())
}
