package sources

import (
	"context"
	"math/big"
)

// Resource kinds understood by the adapters.
const (
	KindChannel = "channel"
	KindVideo   = "video"
	KindProfile = "profile"
	KindPost    = "post"
)

// Query identifies a single counter on a platform.
type Query struct {
	Kind       string
	ResourceID string
	Metric     string
}

// Result is a fetched counter value.
type Result struct {
	Value    *big.Int
	Metadata map[string]any
	Strategy string
}

// Source fetches counters for one platform. Ordering of upstream strategies is owned by the source.
type Source interface {
	Platform() string
	Metrics() []string
	Fetch(ctx context.Context, q Query) (*Result, error)
}

// Strategy is one upstream path a Source can try.
type Strategy interface {
	Name() string
	Supports(q Query) bool
	Fetch(ctx context.Context, q Query) (*Result, error)
}

// TokenProvider yields the current upstream access token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
