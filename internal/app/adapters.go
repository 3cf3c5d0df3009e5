package app

import (
	"net/http"
	"strings"

	"github.com/charlesng35/socialcounter/internal/credentials"
	"github.com/charlesng35/socialcounter/internal/notifications"
	"github.com/charlesng35/socialcounter/internal/sources"
)

// HTTPConfig converts outbound client settings for the platform adapters.
func (c SourcesConfig) HTTPConfig() sources.HTTPConfig {
	return sources.HTTPConfig{
		Timeout:      c.HTTP.Timeout,
		RetryMax:     c.HTTP.RetryMax,
		RetryWaitMin: c.HTTP.RetryWaitMin,
		RetryWaitMax: c.HTTP.RetryWaitMax,
		UserAgent:    strings.TrimSpace(c.HTTP.UserAgent),
	}
}

// PublisherConfig converts the AMQP sink settings.
func (c NotificationsConfig) PublisherConfig() notifications.AMQPConfig {
	return notifications.AMQPConfig{
		URL:         strings.TrimSpace(c.AMQP.URL),
		Exchange:    strings.TrimSpace(c.AMQP.Exchange),
		DialTimeout: c.AMQP.DialTimeout,
	}
}

// ManagerConfig converts the credential lifecycle settings.
func (c CredentialsConfig) ManagerConfig() credentials.Config {
	return credentials.Config{
		Platform:         strings.TrimSpace(c.Platform),
		RefreshThreshold: c.RefreshThreshold,
		CheckSpec:        strings.TrimSpace(c.CheckSchedule),
		BootstrapToken:   strings.TrimSpace(c.BootstrapToken),
	}
}

// ExchangerConfig converts the token exchange settings. The client may be nil.
func (c CredentialsConfig) ExchangerConfig(client *http.Client) credentials.ExchangerConfig {
	return credentials.ExchangerConfig{
		AppID:      strings.TrimSpace(c.AppID),
		AppSecret:  strings.TrimSpace(c.AppSecret),
		GraphURL:   strings.TrimSpace(c.GraphURL),
		HTTPClient: client,
	}
}
