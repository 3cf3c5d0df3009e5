package checks

import (
	"context"
	"time"

	"github.com/charlesng35/socialcounter/internal/monitoring"
)

// Pinger represents the minimal interface required to probe a connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis returns a probe for the hot cache layer. When disabled the probe
// reports up with a descriptive message; when enabled but unreachable the
// service runs degraded on the database cache alone.
func Redis(client Pinger, enabled bool) monitoring.Check {
	return monitoring.NewCheck("redis", false, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if !enabled {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unavailable"}
		}
		result := monitoring.ResultFromError(client.Ping(ctx), time.Since(start))
		if result.Status == monitoring.StatusDown {
			result.Status = monitoring.StatusDegraded
		}
		return result
	})
}
