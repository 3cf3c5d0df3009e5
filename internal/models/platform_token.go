package models

import "time"

// PlatformToken stores the long-lived upstream access token for a platform identity.
type PlatformToken struct {
	BaseModel
	Platform    string    `gorm:"uniqueIndex;size:64;not null" json:"platform"`
	AccessToken string    `gorm:"type:text;not null" json:"-"`
	ExpiresAt   time.Time `gorm:"not null" json:"expires_at"`
}

// Remaining returns the time left before the token expires.
func (t *PlatformToken) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}
