package cache

import (
	"strings"
	"time"
)

// DefaultTTL applies when neither a metric nor a platform override exists.
const DefaultTTL = 5 * time.Minute

// TTLPolicy resolves the lifetime of a cached value. Keys are either
// "platform:metric" or "platform"; the more specific key wins.
type TTLPolicy struct {
	overrides map[string]time.Duration
	fallback  time.Duration
}

// DefaultTTLPolicy mirrors the production refresh cadence per platform.
func DefaultTTLPolicy() TTLPolicy {
	return NewTTLPolicy(map[string]time.Duration{
		"instagram":             2 * time.Minute,
		"instagram:followers":   30 * time.Second,
		"instagram:following":   5 * time.Minute,
		"instagram:posts_count": 10 * time.Minute,
		"youtube":               5 * time.Minute,
		"youtube:subscribers":   2 * time.Minute,
		"tiktok":                3 * time.Minute,
		"twitch":                5 * time.Minute,
		"twitch:live_viewers":   30 * time.Second,
	}, DefaultTTL)
}

// NewTTLPolicy builds a policy from explicit overrides. Non-positive durations are ignored.
func NewTTLPolicy(overrides map[string]time.Duration, fallback time.Duration) TTLPolicy {
	if fallback <= 0 {
		fallback = DefaultTTL
	}
	cleaned := make(map[string]time.Duration, len(overrides))
	for key, ttl := range overrides {
		if ttl <= 0 {
			continue
		}
		cleaned[strings.ToLower(strings.TrimSpace(key))] = ttl
	}
	return TTLPolicy{overrides: cleaned, fallback: fallback}
}

// With returns a copy of the policy with extra overrides merged in.
func (p TTLPolicy) With(overrides map[string]time.Duration) TTLPolicy {
	merged := make(map[string]time.Duration, len(p.overrides)+len(overrides))
	for key, ttl := range p.overrides {
		merged[key] = ttl
	}
	for key, ttl := range overrides {
		merged[key] = ttl
	}
	return NewTTLPolicy(merged, p.fallback)
}

// WithFallback returns a copy of the policy using fallback when no override matches.
func (p TTLPolicy) WithFallback(fallback time.Duration) TTLPolicy {
	return NewTTLPolicy(p.overrides, fallback)
}

// For resolves the TTL for a platform and metric.
func (p TTLPolicy) For(platform, metric string) time.Duration {
	platform = strings.ToLower(platform)
	metric = strings.ToLower(metric)
	if ttl, ok := p.overrides[platform+":"+metric]; ok {
		return ttl
	}
	if ttl, ok := p.overrides[platform]; ok {
		return ttl
	}
	if p.fallback <= 0 {
		return DefaultTTL
	}
	return p.fallback
}
