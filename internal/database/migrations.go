package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/socialcounter/internal/models"
)

// DefaultPlatforms lists the platforms seeded on start-up.
var DefaultPlatforms = []models.Platform{
	{Name: "Instagram", Slug: "instagram", BaseURL: "https://www.instagram.com", IsActive: true},
	{Name: "YouTube", Slug: "youtube", BaseURL: "https://www.youtube.com", IsActive: true},
	{Name: "TikTok", Slug: "tiktok", BaseURL: "https://www.tiktok.com", IsActive: true},
	{Name: "Twitch", Slug: "twitch", BaseURL: "https://www.twitch.tv", IsActive: true},
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Platform{},
		&models.MetricEntry{},
		&models.ScheduledMetric{},
		&models.PlatformToken{},
	)
}

// SeedData ensures the default platform catalogue exists.
func SeedData(db *gorm.DB) error {
	for _, platform := range DefaultPlatforms {
		if err := db.Where(models.Platform{Slug: platform.Slug}).Attrs(platform).FirstOrCreate(&models.Platform{}).Error; err != nil {
			return err
		}
	}
	return nil
}
