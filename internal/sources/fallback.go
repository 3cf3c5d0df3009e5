package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	appErrors "github.com/charlesng35/socialcounter/pkg/errors"
	"github.com/charlesng35/socialcounter/pkg/logger"
	"github.com/charlesng35/socialcounter/pkg/metrics"
)

// FallbackSource tries its strategies in order. The first strategy that
// supports the query and succeeds wins; strategies with an open circuit are skipped.
type FallbackSource struct {
	platform   string
	metrics    []string
	kindOf     func(metric string) string
	strategies []Strategy
	breaker    *circuitBreaker
	log        *zap.Logger
}

// FallbackOption customises a FallbackSource.
type FallbackOption func(*FallbackSource)

// WithBreaker tunes the circuit breaker shared by the strategies.
func WithBreaker(threshold int, openFor time.Duration) FallbackOption {
	return func(s *FallbackSource) {
		s.breaker = newCircuitBreaker(threshold, openFor, s.log)
	}
}

// WithKindResolver derives the resource kind when the caller did not supply one.
func WithKindResolver(fn func(metric string) string) FallbackOption {
	return func(s *FallbackSource) {
		s.kindOf = fn
	}
}

// NewFallbackSource builds a Source over ordered strategies.
func NewFallbackSource(platform string, supported []string, strategies []Strategy, opts ...FallbackOption) *FallbackSource {
	log := logger.WithModule("sources").With(zap.String("platform", platform))
	s := &FallbackSource{
		platform:   platform,
		metrics:    append([]string(nil), supported...),
		strategies: strategies,
		log:        log,
	}
	s.breaker = newCircuitBreaker(3, 5*time.Minute, log)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Platform implements Source.
func (s *FallbackSource) Platform() string { return s.platform }

// Metrics implements Source.
func (s *FallbackSource) Metrics() []string { return append([]string(nil), s.metrics...) }

// Fetch implements Source.
func (s *FallbackSource) Fetch(ctx context.Context, q Query) (*Result, error) {
	q.Metric = strings.ToLower(strings.TrimSpace(q.Metric))
	q.ResourceID = strings.TrimSpace(q.ResourceID)
	if q.ResourceID == "" {
		return nil, appErrors.NewValidation("resource id is required")
	}
	if !contains(s.metrics, q.Metric) {
		return nil, appErrors.NewValidation(fmt.Sprintf("metric %q is not supported by %s (supported: %s)",
			q.Metric, s.platform, strings.Join(s.metrics, ", ")))
	}
	if q.Kind == "" && s.kindOf != nil {
		q.Kind = s.kindOf(q.Metric)
	}

	var errs []error
	attempted := 0
	for _, strategy := range s.strategies {
		name := strategy.Name()
		if !strategy.Supports(q) {
			continue
		}
		if err := s.breaker.canAttempt(name); err != nil {
			metrics.SourceFetches.WithLabelValues(s.platform, name, "skipped").Inc()
			errs = append(errs, err)
			continue
		}

		attempted++
		result, err := strategy.Fetch(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				s.breaker.release(name)
				return nil, appErrors.NewSource(fmt.Sprintf("%s fetch cancelled", s.platform), ctx.Err())
			}
			s.breaker.recordFailure(name, err)
			metrics.SourceFetches.WithLabelValues(s.platform, name, "failure").Inc()
			s.log.Warn("strategy failed",
				zap.String("strategy", name),
				zap.String("resource_id", q.ResourceID),
				zap.String("metric", q.Metric),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		s.breaker.recordSuccess(name)
		metrics.SourceFetches.WithLabelValues(s.platform, name, "success").Inc()
		result.Strategy = name
		return result, nil
	}

	if attempted == 0 && len(errs) == 0 {
		return nil, appErrors.NewValidation(fmt.Sprintf("no %s strategy can serve %s/%s", s.platform, q.Kind, q.Metric))
	}
	return nil, appErrors.NewSource(fmt.Sprintf("%s: all strategies failed", s.platform), multierr.Combine(errs...))
}
