package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts metric cache reads by platform and result (hit|miss|error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialcounter_cache_lookups_total",
			Help: "Total number of metric cache lookups",
		},
		[]string{"platform", "result"},
	)

	// CachePurged counts rows removed by expired cache purges.
	CachePurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socialcounter_cache_purged_total",
			Help: "Total number of expired cache rows purged",
		},
	)

	// SourceFetches counts upstream fetches by platform, strategy and result (success|failure|skipped).
	SourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialcounter_source_fetches_total",
			Help: "Total number of upstream source fetch attempts",
		},
		[]string{"platform", "strategy", "result"},
	)

	// ScheduledRuns counts scheduled job executions by outcome (fetched|cached|failed).
	ScheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialcounter_scheduled_runs_total",
			Help: "Total number of scheduled refresh executions",
		},
		[]string{"platform", "outcome"},
	)

	// SchedulerTickDuration measures how long a full scheduler pass takes.
	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "socialcounter_scheduler_tick_seconds",
			Help:    "Duration of scheduler passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Notifications counts notification publishes by sink and result (success|failure).
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialcounter_notifications_total",
			Help: "Total number of notification publish attempts",
		},
		[]string{"sink", "result"},
	)

	// RealtimeConnections tracks open websocket subscribers.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "socialcounter_realtime_connections",
			Help: "Number of connected realtime subscribers",
		},
	)

	// TokenRefreshes counts credential renewals by platform and result (success|failure|skipped).
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialcounter_token_refreshes_total",
			Help: "Total number of access token renewal attempts",
		},
		[]string{"platform", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "socialcounter_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
