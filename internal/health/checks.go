package health

import (
	"context"
	"fmt"
	"time"

	"grimm.is/linkup/internal/clock"
)

// StateFunc reports the bring-up phase by name and whether it is past
// readiness or has failed.
type StateFunc func() (phase string, ready, failed bool)

// StateCheck is degraded while bring-up is in progress and unhealthy once
// it has failed.
func StateCheck(state StateFunc) CheckFunc {
	return func(ctx context.Context) Check {
		phase, ready, failed := state()
		switch {
		case failed:
			return Check{Status: StatusUnhealthy, Message: "bring-up failed in " + phase}
		case ready:
			return Check{Status: StatusHealthy, Message: phase}
		default:
			return Check{Status: StatusDegraded, Message: "bring-up in progress: " + phase}
		}
	}
}

// FreshnessCheck is unhealthy when last is older than maxAge. A zero last is
// degraded: nothing has happened yet.
func FreshnessCheck(clk clock.Clock, what string, last func() time.Time, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		t := last()
		if t.IsZero() {
			return Check{Status: StatusDegraded, Message: "no " + what + " yet"}
		}
		age := clk.Since(t)
		if age > maxAge {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("last %s %s ago (limit %s)", what, age.Round(time.Millisecond), maxAge)}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("last %s %s ago", what, age.Round(time.Millisecond))}
	}
}
