package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the social counter service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Credentials   CredentialsConfig   `mapstructure:"credentials"`
	Sources       SourcesConfig       `mapstructure:"sources"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes the metric cache and its optional hot layer.
type CacheConfig struct {
	DefaultTTL time.Duration            `mapstructure:"default_ttl"`
	TTL        map[string]time.Duration `mapstructure:"ttl"`
	Redis      RedisCacheConfig         `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotificationsConfig selects the sinks that receive counter updates.
type NotificationsConfig struct {
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
}

// AMQPConfig configures the topic exchange publisher.
type AMQPConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	Exchange    string        `mapstructure:"exchange"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RealtimeConfig toggles the websocket stream.
type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SchedulerConfig tunes the background refresh loop.
type SchedulerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Tick             string `mapstructure:"tick"`
	BatchSize        int    `mapstructure:"batch_size"`
	DueLimit         int    `mapstructure:"due_limit"`
	AnchorToSchedule bool   `mapstructure:"anchor_to_schedule"`
}

// CredentialsConfig configures the managed upstream access token.
type CredentialsConfig struct {
	Platform         string        `mapstructure:"platform"`
	AppID            string        `mapstructure:"app_id"`
	AppSecret        string        `mapstructure:"app_secret"`
	BootstrapToken   string        `mapstructure:"bootstrap_token"`
	GraphURL         string        `mapstructure:"graph_url"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
	CheckSchedule    string        `mapstructure:"check_schedule"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// SourcesConfig configures the platform adapters.
type SourcesConfig struct {
	HTTP      HTTPClientConfig `mapstructure:"http"`
	YouTube   YouTubeConfig    `mapstructure:"youtube"`
	Instagram InstagramConfig  `mapstructure:"instagram"`
}

// HTTPClientConfig controls outbound requests to platforms.
type HTTPClientConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// YouTubeConfig configures the YouTube Data API adapter.
type YouTubeConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// InstagramConfig configures the Instagram adapters.
type InstagramConfig struct {
	BusinessAccountID string `mapstructure:"business_account_id"`
	GraphURL          string `mapstructure:"graph_url"`
	WebURL            string `mapstructure:"web_url"`
}

// MaintenanceConfig schedules housekeeping jobs.
type MaintenanceConfig struct {
	CachePurgeSchedule string `mapstructure:"cache_purge_schedule"`
}

// AuthConfig holds the shared keys guarding the API.
type AuthConfig struct {
	APIKey   string `mapstructure:"api_key"`
	AdminKey string `mapstructure:"admin_key"`
}

// legacyEnv maps configuration keys to the plain environment names used by
// existing deployments.
var legacyEnv = map[string]string{
	"server.port":                           "PORT",
	"database.dsn":                          "DATABASE_URL",
	"auth.api_key":                          "API_KEY",
	"auth.admin_key":                        "API_ADMIN_KEY",
	"credentials.app_id":                    "INSTAGRAM_APP_ID",
	"credentials.app_secret":                "INSTAGRAM_APP_SECRET",
	"credentials.bootstrap_token":           "INSTAGRAM_ACCESS_TOKEN",
	"sources.youtube.api_key":               "YOUTUBE_API_KEY",
	"sources.instagram.business_account_id": "INSTAGRAM_BUSINESS_ACCOUNT_ID",
	"notifications.amqp.url":                "AMQP_URL",
}

const envPrefix = "SOCIALCOUNTER"

// LoadConfig initialises application configuration using Viper with sensible defaults.
// A .env file in the working directory or any supplied path is loaded first
// without overriding variables already present in the environment.
func LoadConfig(paths ...string) (*Config, error) {
	loadDotEnv(paths...)

	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func loadDotEnv(paths ...string) {
	candidates := []string{".env"}
	for _, path := range paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}
	for _, file := range candidates {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Load(file)
	}
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "15m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/socialcounter.sqlite")

	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("notifications.amqp.enabled", false)
	v.SetDefault("notifications.amqp.exchange", "social-counter")
	v.SetDefault("notifications.amqp.dial_timeout", "10s")
	v.SetDefault("notifications.realtime.enabled", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick", "@every 60s")
	v.SetDefault("scheduler.batch_size", 10)
	v.SetDefault("scheduler.due_limit", 50)
	v.SetDefault("scheduler.anchor_to_schedule", false)

	v.SetDefault("credentials.platform", "instagram")
	v.SetDefault("credentials.graph_url", "https://graph.facebook.com/v23.0")
	v.SetDefault("credentials.refresh_threshold", "240h") // 10 days
	v.SetDefault("credentials.check_schedule", "@every 24h")
	v.SetDefault("credentials.cache_ttl", "5m")

	v.SetDefault("sources.http.timeout", "15s")
	v.SetDefault("sources.http.retry_max", 2)
	v.SetDefault("sources.http.retry_wait_min", "500ms")
	v.SetDefault("sources.http.retry_wait_max", "5s")
	v.SetDefault("sources.http.user_agent", "social-counter/1.0")

	v.SetDefault("maintenance.cache_purge_schedule", "@every 5m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
