package models

// Platform is a social network whose counters can be cached and scheduled.
type Platform struct {
	BaseModel
	Name     string `gorm:"not null" json:"name"`
	Slug     string `gorm:"uniqueIndex;size:64;not null" json:"slug"`
	BaseURL  string `json:"base_url"`
	IsActive bool   `gorm:"not null" json:"is_active"`
}
