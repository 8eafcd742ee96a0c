package bringup

import (
	"errors"
	"fmt"

	"grimm.is/linkup/internal/events"
)

// Stages reported by bring-up errors.
const (
	StageConfig       = "config"
	StageSubscribe    = "subscribe"
	StageConstruct    = "construct"
	StageStart        = "start"
	StageWaitForReady = "wait-for-ready"
	StageReady        = "ready"
	StageProbe        = "probe"
	StageMonitor      = "monitor"
)

// ErrIPv6Unsupported marks IPv6 lease events, which are logged and ignored.
var ErrIPv6Unsupported = errors.New("ipv6 lease events are not supported")

// StageError is implemented by every fatal bring-up error.
type StageError interface {
	error
	Stage() string
}

// SubscriptionError reports a failed bus subscription.
type SubscriptionError struct {
	Category events.Category
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s events: %v", e.Category, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
func (e *SubscriptionError) Stage() string { return StageSubscribe }

// DriverError reports a failure of the link driver in construct, start or
// wait-for-ready.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }
func (e *DriverError) Stage() string { return e.Op }

// ProbeError reports a connectivity probe that could not run.
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("connectivity probe: %v", e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }
func (e *ProbeError) Stage() string { return StageProbe }

// LivenessTimeout reports that no readiness signal arrived in time, either
// when confirming readiness or while monitoring.
type LivenessTimeout struct {
	At  string
	Err error
}

func (e *LivenessTimeout) Error() string {
	return fmt.Sprintf("liveness timeout: %v", e.Err)
}

func (e *LivenessTimeout) Unwrap() error { return e.Err }
func (e *LivenessTimeout) Stage() string { return e.At }

// StageOf returns the stage of err, or "" when err carries none.
func StageOf(err error) string {
	var se StageError
	if errors.As(err, &se) {
		return se.Stage()
	}
	return ""
}
