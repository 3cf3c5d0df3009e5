package models

import (
	"math/big"
	"time"

	"gorm.io/datatypes"
)

// MetricEntry is one fetched counter value kept until ExpiresAt.
// Rows are appended on every write; the newest unexpired row for a key is authoritative.
type MetricEntry struct {
	ID          uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	PlatformID  string         `gorm:"size:36;not null;index:idx_metric_lookup,priority:1" json:"platform_id"`
	Platform    *Platform      `gorm:"foreignKey:PlatformID" json:"platform,omitempty"`
	Resource    string         `gorm:"size:255;not null;index:idx_metric_lookup,priority:2" json:"resource"`
	Metric      string         `gorm:"size:64;not null;index:idx_metric_lookup,priority:3" json:"metric"`
	Value       string         `gorm:"size:80;not null" json:"value"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	FetchedAt   time.Time      `gorm:"not null;index:idx_metric_lookup,priority:4" json:"fetched_at"`
	ExpiresAt   time.Time      `gorm:"not null;index" json:"expires_at"`
	RequestID   string         `gorm:"size:64" json:"request_id,omitempty"`
	RequestedBy string         `gorm:"size:128" json:"requested_by,omitempty"`
}

// BigValue parses the stored decimal value.
func (e *MetricEntry) BigValue() (*big.Int, bool) {
	if e == nil {
		return nil, false
	}
	return new(big.Int).SetString(e.Value, 10)
}
