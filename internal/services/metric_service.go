package services

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/socialcounter/internal/cache"
	"github.com/charlesng35/socialcounter/internal/sources"
	apperrors "github.com/charlesng35/socialcounter/pkg/errors"
	"github.com/charlesng35/socialcounter/pkg/logger"
)

// FetchRequest identifies one counter to read.
type FetchRequest struct {
	Platform   string
	Resource   string
	ResourceID string
	Metric     string
	Origin     cache.Origin
}

// FetchResult is a counter value together with its provenance.
type FetchResult struct {
	Platform   string         `json:"platform"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Metric     string         `json:"metric"`
	Value      *big.Int       `json:"value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Cached     bool           `json:"cached"`
	FetchedAt  time.Time      `json:"fetched_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Strategy   string         `json:"strategy,omitempty"`
}

// MetricService reads counters through the cache, falling back to the platform source on a miss.
type MetricService struct {
	cache   *cache.MetricCache
	sources *sources.Registry
	now     func() time.Time
	log     *zap.Logger
}

// NewMetricService constructs a MetricService.
func NewMetricService(metricCache *cache.MetricCache, registry *sources.Registry) (*MetricService, error) {
	if metricCache == nil {
		return nil, errors.New("metric service: cache is required")
	}
	if registry == nil {
		return nil, errors.New("metric service: source registry is required")
	}
	return &MetricService{
		cache:   metricCache,
		sources: registry,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.WithModule("metrics"),
	}, nil
}

// Normalize validates the request and canonicalises the resource id.
func (s *MetricService) Normalize(req FetchRequest) (FetchRequest, error) {
	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	req.Resource = strings.ToLower(strings.TrimSpace(req.Resource))
	req.Metric = strings.ToLower(strings.TrimSpace(req.Metric))
	if req.Platform == "" || req.Resource == "" || req.Metric == "" {
		return req, apperrors.NewValidation("platform, resource and metric are required")
	}

	source, err := s.sources.Get(req.Platform)
	if err != nil {
		return req, err
	}
	if !containsString(source.Metrics(), req.Metric) {
		return req, apperrors.NewValidation("metric " + req.Metric + " is not supported by " + req.Platform)
	}

	req.ResourceID = sources.NormalizeResourceID(req.Platform, req.Resource, req.ResourceID)
	if req.ResourceID == "" {
		return req, apperrors.NewValidation("resource_id is required")
	}
	return req, nil
}

// Fetch returns the cached value when one is still valid, otherwise fetches
// from the platform source and writes the cache. Cache failures behave as misses.
func (s *MetricService) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	ctx = ensureContext(ctx)
	req, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}

	if entry, ok := s.cache.Get(ctx, req.Platform, req.ResourceID, req.Metric); ok {
		return &FetchResult{
			Platform:   req.Platform,
			Resource:   req.Resource,
			ResourceID: req.ResourceID,
			Metric:     req.Metric,
			Value:      entry.Value,
			Metadata:   entry.Metadata,
			Cached:     true,
			FetchedAt:  entry.FetchedAt,
			ExpiresAt:  entry.ExpiresAt,
		}, nil
	}

	source, err := s.sources.Get(req.Platform)
	if err != nil {
		return nil, err
	}
	res, err := source.Fetch(ctx, sources.Query{Kind: req.Resource, ResourceID: req.ResourceID, Metric: req.Metric})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewSource(req.Platform+" fetch failed", err)
	}
	if res == nil || res.Value == nil {
		return nil, apperrors.NewSource(req.Platform+" returned no value", nil)
	}

	result := &FetchResult{
		Platform:   req.Platform,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Metric:     req.Metric,
		Value:      res.Value,
		Metadata:   res.Metadata,
		Strategy:   res.Strategy,
	}
	if entry := s.cache.Set(ctx, req.Platform, req.ResourceID, req.Metric, res.Value, res.Metadata, req.Origin); entry != nil {
		result.FetchedAt = entry.FetchedAt
		result.ExpiresAt = entry.ExpiresAt
	} else {
		now := s.now()
		result.FetchedAt = now
		result.ExpiresAt = now.Add(s.cache.TTL(req.Platform, req.Metric))
	}

	s.log.Debug("metric fetched",
		zap.String("platform", req.Platform),
		zap.String("resource_id", req.ResourceID),
		zap.String("metric", req.Metric),
		zap.String("strategy", res.Strategy),
	)
	return result, nil
}

// Platforms lists the platforms with a registered source.
func (s *MetricService) Platforms() []string {
	return s.sources.Platforms()
}

// SupportedMetrics lists the metrics a platform source can serve.
func (s *MetricService) SupportedMetrics(platform string) ([]string, error) {
	source, err := s.sources.Get(platform)
	if err != nil {
		return nil, err
	}
	return source.Metrics(), nil
}
