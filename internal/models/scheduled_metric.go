package models

import "time"

// ScheduledMetric is a recurring refresh job for one (platform, resource, resource id, metric) tuple.
// Jobs are never hard deleted; Deactivate flips IsActive.
type ScheduledMetric struct {
	BaseModel
	Platform          string     `gorm:"size:64;not null;uniqueIndex:idx_schedule_tuple,priority:1" json:"platform"`
	Resource          string     `gorm:"size:64;not null;uniqueIndex:idx_schedule_tuple,priority:2" json:"resource"`
	ResourceID        string     `gorm:"size:255;not null;uniqueIndex:idx_schedule_tuple,priority:3" json:"resource_id"`
	Metric            string     `gorm:"size:64;not null;uniqueIndex:idx_schedule_tuple,priority:4" json:"metric"`
	IntervalSeconds   int        `gorm:"not null" json:"interval_seconds"`
	ExpiresAt         time.Time  `gorm:"not null;index" json:"expires_at"`
	NextRunAt         time.Time  `gorm:"not null;index" json:"next_run_at"`
	LastFetchedAt     *time.Time `json:"last_fetched_at"`
	LastValue         *string    `gorm:"size:80" json:"last_value"`
	NotifyOnlyChanged bool       `gorm:"not null" json:"notify_only_changed"`
	IsActive          bool       `gorm:"not null;index" json:"is_active"`
	CreatedBy         string     `gorm:"size:128" json:"created_by,omitempty"`
}

// Interval returns the refresh cadence.
func (m *ScheduledMetric) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Expired reports whether the job lifetime has elapsed at the provided instant.
func (m *ScheduledMetric) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}
