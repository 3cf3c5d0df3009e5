package sources

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	appErrors "github.com/charlesng35/socialcounter/pkg/errors"
)

// Registry resolves the Source responsible for a platform.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry builds a registry from the provided sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the source for its platform.
func (r *Registry) Register(s Source) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[strings.ToLower(s.Platform())] = s
}

// Get returns the source for a platform.
func (r *Registry) Get(platform string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return nil, appErrors.NewNotFound(fmt.Sprintf("platform %q has no metric source", platform))
	}
	return s, nil
}

// Platforms lists registered platform slugs in lexical order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for slug := range r.sources {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
