package app

import (
	"strings"

	"github.com/charlesng35/socialcounter/internal/cache"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// TTLPolicy merges configured overrides onto the built-in per-platform lifetimes.
func (c CacheConfig) TTLPolicy() cache.TTLPolicy {
	policy := cache.DefaultTTLPolicy()
	if c.DefaultTTL > 0 {
		policy = policy.WithFallback(c.DefaultTTL)
	}
	if len(c.TTL) > 0 {
		policy = policy.With(c.TTL)
	}
	return policy
}
