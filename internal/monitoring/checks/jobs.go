package checks

import (
	"context"

	"github.com/charlesng35/socialcounter/internal/monitoring"
)

// RunningJob exposes whether a background loop is armed.
type RunningJob interface {
	IsRunning() bool
}

// Scheduler reports whether the refresh loop is running. A disabled loop is
// expected when the operator turned it off.
func Scheduler(job RunningJob, enabled bool) monitoring.Check {
	return monitoring.NewCheck("scheduler", false, func(context.Context) monitoring.ProbeResult {
		switch {
		case !enabled:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "scheduler disabled"}
		case job == nil || !job.IsRunning():
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "scheduler not running"}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}

// CredentialStatus is the subset of the credential manager the probe reads.
type CredentialStatus interface {
	Configured() bool
	IsExpiringSoon(ctx context.Context) (bool, error)
}

// Credentials degrades when the managed token is missing or close to expiry
// and cannot be renewed automatically.
func Credentials(manager CredentialStatus) monitoring.Check {
	return monitoring.NewCheck("credentials", false, func(ctx context.Context) monitoring.ProbeResult {
		if manager == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "credentials not managed"}
		}
		expiring, err := manager.IsExpiringSoon(ctx)
		if err != nil {
			result := monitoring.ResultFromError(err, 0)
			result.Status = monitoring.StatusDegraded
			return result
		}
		switch {
		case expiring && !manager.Configured():
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "token missing or expiring and renewal is disabled"}
		case expiring:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "token expiring, renewal pending"}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}
