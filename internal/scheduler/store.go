package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/socialcounter/internal/database"
	"github.com/charlesng35/socialcounter/internal/models"
	apperrors "github.com/charlesng35/socialcounter/pkg/errors"
)

const (
	// DefaultIntervalMinutes is applied when a schedule request omits the cadence.
	DefaultIntervalMinutes = 5.0
	// DefaultExpiresInDays is applied when a schedule request omits the job lifetime.
	DefaultExpiresInDays = 7

	minIntervalMinutes = 0.5
	maxIntervalMinutes = 1440.0
	minExpiresInDays   = 1
	maxExpiresInDays   = 30

	defaultDueLimit = 50
)

// ScheduleInput describes a create-or-update request for a refresh job.
// Zero IntervalMinutes and ExpiresInDays select the defaults.
type ScheduleInput struct {
	Platform          string
	Resource          string
	ResourceID        string
	Metric            string
	IntervalMinutes   float64
	ExpiresInDays     int
	NotifyOnlyChanged bool
	CreatedBy         string
}

// Validate normalises the input in place and rejects out-of-range values.
func (in *ScheduleInput) Validate() error {
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	in.Resource = strings.ToLower(strings.TrimSpace(in.Resource))
	in.ResourceID = strings.TrimSpace(in.ResourceID)
	in.Metric = strings.ToLower(strings.TrimSpace(in.Metric))
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)

	switch {
	case in.Platform == "":
		return apperrors.NewValidation("platform is required")
	case in.Resource == "":
		return apperrors.NewValidation("resource is required")
	case in.ResourceID == "":
		return apperrors.NewValidation("resource_id is required")
	case in.Metric == "":
		return apperrors.NewValidation("metric is required")
	}

	if in.IntervalMinutes == 0 {
		in.IntervalMinutes = DefaultIntervalMinutes
	}
	if math.IsNaN(in.IntervalMinutes) || in.IntervalMinutes < minIntervalMinutes || in.IntervalMinutes > maxIntervalMinutes {
		return apperrors.NewValidation(fmt.Sprintf("interval_minutes must be between %g and %g", minIntervalMinutes, maxIntervalMinutes))
	}
	if in.ExpiresInDays == 0 {
		in.ExpiresInDays = DefaultExpiresInDays
	}
	if in.ExpiresInDays < minExpiresInDays || in.ExpiresInDays > maxExpiresInDays {
		return apperrors.NewValidation(fmt.Sprintf("expires_in_days must be between %d and %d", minExpiresInDays, maxExpiresInDays))
	}
	return nil
}

func (in *ScheduleInput) intervalSeconds() int {
	return int(math.Round(in.IntervalMinutes * 60))
}

// Stats aggregates schedule counts.
type Stats struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Expired   int64 `json:"expired"`
	DueNow    int64 `json:"due_now"`
	IsRunning bool  `json:"is_running"`
}

// Store persists refresh jobs.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// StoreOption customises Store.
type StoreOption func(*Store)

// WithStoreClock overrides the time source used for new jobs and updates.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = func() time.Time { return now().UTC() }
		}
	}
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("schedule store: db is required")
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upsert creates the job for the input tuple or updates the existing one.
// New and previously inactive jobs become due immediately; an active job keeps
// its pending next run. The boolean reports whether a row was created.
func (s *Store) Upsert(ctx context.Context, in ScheduleInput) (*models.ScheduledMetric, bool, error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}

	job, created, err := s.upsertOnce(ctx, in)
	if err != nil && database.IsUniqueViolation(err) {
		// A concurrent request inserted the tuple first; apply ours as an update.
		job, created, err = s.upsertOnce(ctx, in)
	}
	if err != nil {
		return nil, false, apperrors.NewStore("upsert schedule", err)
	}
	return job, created, nil
}

func (s *Store) upsertOnce(ctx context.Context, in ScheduleInput) (*models.ScheduledMetric, bool, error) {
	now := s.now()
	expiresAt := now.Add(time.Duration(in.ExpiresInDays) * 24 * time.Hour)

	var (
		job     models.ScheduledMetric
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("platform = ? AND resource = ? AND resource_id = ? AND metric = ?",
			in.Platform, in.Resource, in.ResourceID, in.Metric).
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			job = models.ScheduledMetric{
				BaseModel:         models.BaseModel{CreatedAt: now, UpdatedAt: now},
				Platform:          in.Platform,
				Resource:          in.Resource,
				ResourceID:        in.ResourceID,
				Metric:            in.Metric,
				IntervalSeconds:   in.intervalSeconds(),
				ExpiresAt:         expiresAt,
				NextRunAt:         now,
				NotifyOnlyChanged: in.NotifyOnlyChanged,
				IsActive:          true,
				CreatedBy:         in.CreatedBy,
			}
			created = true
			return tx.Create(&job).Error
		}
		if err != nil {
			return err
		}

		columns := []string{"interval_seconds", "expires_at", "notify_only_changed", "is_active", "updated_at"}
		if !job.IsActive {
			job.NextRunAt = now
			columns = append(columns, "next_run_at")
		}
		job.IntervalSeconds = in.intervalSeconds()
		job.ExpiresAt = expiresAt
		job.NotifyOnlyChanged = in.NotifyOnlyChanged
		job.IsActive = true
		job.UpdatedAt = now
		return tx.Model(&job).Select(columns).Updates(&job).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &job, created, nil
}

// Get loads a job by id.
func (s *Store) Get(ctx context.Context, id string) (*models.ScheduledMetric, error) {
	var job models.ScheduledMetric
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("scheduled metric not found")
	}
	if err != nil {
		return nil, apperrors.NewStore("load schedule", err)
	}
	return &job, nil
}

// ListActive returns active, unexpired jobs, newest first.
func (s *Store) ListActive(ctx context.Context) ([]models.ScheduledMetric, error) {
	var jobs []models.ScheduledMetric
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND expires_at > ?", true, s.now()).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, apperrors.NewStore("list schedules", err)
	}
	return jobs, nil
}

// FindDue returns at most limit active, unexpired jobs whose next run is at or
// before now, most overdue first.
func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMetric, error) {
	if limit <= 0 {
		limit = defaultDueLimit
	}
	now = now.UTC()

	var jobs []models.ScheduledMetric
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND expires_at > ? AND next_run_at <= ?", true, now, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, apperrors.NewStore("find due schedules", err)
	}
	return jobs, nil
}

// RecordRun stores the outcome of one execution. It never changes is_active,
// so a job deactivated mid-run stays inactive.
func (s *Store) RecordRun(ctx context.Context, id string, lastValue *string, ranAt, nextRunAt time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.ScheduledMetric{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_value":      lastValue,
			"last_fetched_at": ranAt.UTC(),
			"next_run_at":     nextRunAt.UTC(),
			"updated_at":      s.now(),
		}).Error
	if err != nil {
		return apperrors.NewStore("record schedule run", err)
	}
	return nil
}

// Deactivate marks a job inactive. Unknown ids are a no-op.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&models.ScheduledMetric{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "updated_at": s.now()}).Error
	if err != nil {
		return apperrors.NewStore("deactivate schedule", err)
	}
	return nil
}

// Stats counts jobs relative to now. IsRunning is left for the scheduler to fill.
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	now = now.UTC()
	db := s.db.WithContext(ctx).Model(&models.ScheduledMetric{})

	var stats Stats
	queries := []struct {
		dest  *int64
		where string
		args  []any
	}{
		{&stats.Total, "1 = 1", nil},
		{&stats.Active, "is_active = ? AND expires_at > ?", []any{true, now}},
		{&stats.Expired, "expires_at <= ?", []any{now}},
		{&stats.DueNow, "is_active = ? AND expires_at > ? AND next_run_at <= ?", []any{true, now, now}},
	}
	for _, q := range queries {
		if err := db.Session(&gorm.Session{}).Where(q.where, q.args...).Count(q.dest).Error; err != nil {
			return Stats{}, apperrors.NewStore("schedule stats", err)
		}
	}
	return stats, nil
}
