package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/socialcounter/internal/monitoring"
)

// Database returns a critical probe that pings the database handle. The cache,
// schedules and credentials all live there.
func Database(db *gorm.DB) monitoring.Check {
	return monitoring.NewCheck("database", true, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError(err, time.Since(start))
		}
		return monitoring.ResultFromError(sqlDB.PingContext(ctx), time.Since(start))
	})
}
