package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by stores that distinguish a missing key from a failure.
var ErrMiss = errors.New("cache: miss")

// Store represents a shared key/value cache used for hot metric lookups and rate limiting.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
