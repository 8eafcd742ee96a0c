// Package bringup drives one interface from configuration to a supervised,
// addressed link.
package bringup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/config"
	"grimm.is/linkup/internal/events"
	"grimm.is/linkup/internal/logging"
	"grimm.is/linkup/internal/metrics"
	"grimm.is/linkup/internal/monitor"
	"grimm.is/linkup/internal/network"
)

// DriverFactory constructs the link driver once subscriptions exist.
type DriverFactory func(cfg *config.InterfaceConfiguration, bus *events.Hub) (network.Driver, error)

// Prober runs the one-shot connectivity check.
type Prober interface {
	Probe(cfg monitor.ProbeConfig) (*monitor.ProbeSummary, error)
}

// Options configures a Controller. Config, Bus, NewDriver and Prober are
// required.
type Options struct {
	Config    *config.InterfaceConfiguration
	Probe     monitor.ProbeConfig
	Window    time.Duration
	Bus       *events.Hub
	NewDriver DriverFactory
	Prober    Prober

	// Optional.
	Readiness *monitor.Readiness
	Clock     clock.Clock
	Logger    *logging.Logger
	Metrics   *metrics.Registry
}

// Controller runs the bring-up sequence once. It never retries.
type Controller struct {
	cfg       *config.InterfaceConfiguration
	probe     monitor.ProbeConfig
	window    time.Duration
	bus       *events.Hub
	newDriver DriverFactory
	prober    Prober
	readiness *monitor.Readiness
	clock     clock.Clock
	logger    *logging.Logger
	metrics   *metrics.Registry

	runID   uuid.UUID
	state   *Tracker
	driver  network.Driver
	subs    []*events.Subscription
	summary *monitor.ProbeSummary
}

// New validates opts and returns a controller in StateConfigured.
func New(opts Options) (*Controller, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("bringup: interface configuration is required")
	case opts.NewDriver == nil:
		return nil, errors.New("bringup: driver factory is required")
	case opts.Prober == nil:
		return nil, errors.New("bringup: prober is required")
	}

	c := &Controller{
		cfg:       opts.Config,
		probe:     opts.Probe,
		window:    opts.Window,
		bus:       opts.Bus,
		newDriver: opts.NewDriver,
		prober:    opts.Prober,
		readiness: opts.Readiness,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		runID:     uuid.New(),
	}
	if c.window <= 0 {
		c.window = monitor.DefaultWindow
	}
	if c.clock == nil {
		c.clock = clock.Default()
	}
	if c.readiness == nil {
		rOpts := []monitor.ReadinessOption{monitor.WithReadinessClock(c.clock)}
		if c.metrics != nil {
			rOpts = append(rOpts, monitor.WithReadinessMetrics(c.metrics))
		}
		c.readiness = monitor.NewReadiness(monitor.DefaultReadinessCapacity, rOpts...)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("bringup")
	}
	c.logger = logger.With("interface", c.cfg.Identity(), "run", c.runID.String())

	c.state = NewTracker(c.onStateChange)
	if err := c.state.Advance(StateConfigured); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) onStateChange(from, to State) {
	c.logger.Debug("State change", "from", from.String(), "to", to.String())
	if c.metrics != nil {
		c.metrics.BringupState.Set(float64(to))
	}
}

// RunID identifies this bring-up in logs and events.
func (c *Controller) RunID() uuid.UUID { return c.runID }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state.State() }

// History returns every state entered so far.
func (c *Controller) History() []State { return c.state.History() }

// FailedIn returns the state the run failed in, or the current state.
func (c *Controller) FailedIn() State { return c.state.FailedIn() }

// Readiness returns the readiness channel fed by the IP handler.
func (c *Controller) Readiness() *monitor.Readiness { return c.readiness }

// Summary returns the probe result once the probe stage has passed.
func (c *Controller) Summary() *monitor.ProbeSummary { return c.summary }

// Run brings the interface up and then monitors it. It returns a fatal
// error implementing StageError, or nil once ctx is cancelled. Start and
// WaitForReady are not interruptible; cancellation is seen between stages.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.run(ctx); err != nil {
		c.state.Fail()
		if stage := StageOf(err); stage != "" && c.metrics != nil {
			c.metrics.RecordStageFailure(stage)
		}
		return err
	}
	return nil
}

func (c *Controller) run(ctx context.Context) error {
	c.logger.Info("Bringing up interface",
		"description", c.cfg.Description(),
		"mode", c.cfg.Mode().String(),
		"hostname", c.cfg.Hostname(),
		"mac_override", c.cfg.HasMACOverride())

	if err := c.subscribe(); err != nil {
		return err
	}
	c.bus.EmitSystem("bringup", "bring-up started", map[string]string{
		"run":       c.runID.String(),
		"interface": c.cfg.Identity(),
	})

	drv, err := c.newDriver(c.cfg, c.bus)
	if err != nil {
		return &DriverError{Op: StageConstruct, Err: err}
	}
	if drv == nil {
		return &DriverError{Op: StageConstruct, Err: errors.New("factory returned no driver")}
	}
	c.driver = drv
	c.advance(StateDriverStarted)

	// Start blocks until carrier, WaitForReady until an address is held.
	c.advance(StateAwaitingLink)
	c.logger.Info("Starting driver")
	if err := drv.Start(); err != nil {
		return &DriverError{Op: StageStart, Err: err}
	}
	if c.stopped(ctx) {
		return nil
	}

	c.advance(StateAwaitingLease)
	c.logger.Info("Waiting for interface ready")
	if err := drv.WaitForReady(); err != nil {
		return &DriverError{Op: StageWaitForReady, Err: err}
	}

	// The blocking wait and the event path must agree before anything
	// depends on the address.
	if err := c.readiness.WaitFirst(c.window); err != nil {
		return &LivenessTimeout{At: StageReady, Err: fmt.Errorf("no lease event within %s of ready: %w", c.window, err)}
	}
	c.advance(StateReady)
	c.logger.Info("Interface ready", "index", drv.Index())
	if c.stopped(ctx) {
		return nil
	}

	summary, err := c.prober.Probe(c.probe)
	if err != nil {
		return &ProbeError{Err: err}
	}
	c.summary = summary

	c.logLease()
	if c.stopped(ctx) {
		return nil
	}

	c.advance(StateMonitoring)
	live := []monitor.LivenessOption{monitor.WithLivenessClock(c.clock)}
	if c.metrics != nil {
		live = append(live, monitor.WithLivenessMetrics(c.metrics))
	}
	err = monitor.NewLiveness(c.readiness, c.window, live...).Run(ctx)
	if ctx.Err() != nil && !errors.Is(err, monitor.ErrLivenessTimeout) {
		c.logger.Info("Monitoring stopped", "reason", ctx.Err())
		return nil
	}
	return &LivenessTimeout{At: StageMonitor, Err: err}
}

func (c *Controller) stopped(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	c.logger.Info("Bring-up stopped", "state", c.state.State().String(), "reason", ctx.Err())
	return true
}

func (c *Controller) subscribe() error {
	hctx := &handlerContext{
		readiness: c.readiness,
		logger:    c.logger,
		metrics:   c.metrics,
	}

	handlers := []struct {
		category events.Category
		fn       func(*handlerContext, events.Event)
	}{
		{events.CategorySystem, onSystemEvent},
		{events.CategoryIP, onIPEvent},
		{events.CategoryLink, onLinkEvent},
	}
	for _, h := range handlers {
		sub, err := c.bus.Subscribe(h.category, events.Bind(hctx, h.fn))
		if err != nil {
			return &SubscriptionError{Category: h.category, Err: err}
		}
		c.subs = append(c.subs, sub)
	}
	return nil
}

func (c *Controller) logLease() {
	lease, err := c.driver.Lease()
	if err != nil {
		c.logger.Warn("No current lease", "error", err)
		return
	}
	c.logger.Info("IP info",
		"ip", lease.IPAddress.String(),
		"netmask", maskString(lease.SubnetMask),
		"gateway", lease.Router.String(),
		"dns", lease.DNSServers,
		"lease_time", lease.LeaseTime,
		"static", lease.Static)
}

// advance panics on an invalid transition, which would be a bug in run.
func (c *Controller) advance(to State) {
	if err := c.state.Advance(to); err != nil {
		panic(err)
	}
}

func maskString(m []byte) string {
	if len(m) != 4 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", m[0], m[1], m[2], m[3])
}
