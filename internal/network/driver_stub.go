//go:build !linux
// +build !linux

package network

import (
	"time"

	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/config"
	"grimm.is/linkup/internal/events"
	"grimm.is/linkup/internal/logging"
)

// DriverOptions configures a LinkDriver.
type DriverOptions struct {
	Clock       clock.Clock
	Logger      *logging.Logger
	DHCPTimeout time.Duration
	Keepalive   time.Duration
}

// LinkDriver is unavailable on this platform.
type LinkDriver struct{}

// NewLinkDriver always fails on this platform.
func NewLinkDriver(cfg *config.InterfaceConfiguration, bus *events.Hub, opts DriverOptions) (*LinkDriver, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *LinkDriver) Start() error { return ErrUnsupportedPlatform }
func (d *LinkDriver) WaitForReady() error { return ErrUnsupportedPlatform }
func (d *LinkDriver) Lease() (LeaseInfo, error) { return LeaseInfo{}, ErrNoLease }
func (d *LinkDriver) Index() int { return 0 }
func (d *LinkDriver) Name() string { return "" }
func (d *LinkDriver) Close() error { return nil }
