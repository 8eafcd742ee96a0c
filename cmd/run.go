package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/linkup/internal/bringup"
	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/config"
	"grimm.is/linkup/internal/events"
	"grimm.is/linkup/internal/health"
	"grimm.is/linkup/internal/logging"
	"grimm.is/linkup/internal/metrics"
	"grimm.is/linkup/internal/monitor"
	"grimm.is/linkup/internal/network"
)

const (
	counterInterval = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// RunBringup supervises the configured interface until ctx is cancelled or
// a stage fails. A cancelled ctx returns nil.
func RunBringup(ctx context.Context, s *config.Settings) error {
	logger := logging.WithComponent("supervisor")
	reg := metrics.Get()
	iface := s.Interface

	bus := events.NewHub(events.WithLogger(logging.WithComponent("events")))
	defer bus.Close()

	var driver *network.LinkDriver
	factory := func(cfg *config.InterfaceConfiguration, bus *events.Hub) (network.Driver, error) {
		d, err := network.NewLinkDriver(cfg, bus, network.DriverOptions{
			Logger:    logging.WithComponent("link"),
			Keepalive: driverKeepalive(s.Keepalive),
		})
		if err != nil {
			return nil, err
		}
		driver = d
		return d, nil
	}

	ctrl, err := bringup.New(bringup.Options{
		Config:    iface,
		Probe:     probeConfig(s),
		Window:    s.Window,
		Bus:       bus,
		NewDriver: factory,
		Prober:    newProber(iface.Namespace(), reg),
		Logger:    logging.WithComponent("bringup"),
		Metrics:   reg,
	})
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if iface.Namespace() == "" {
		collector = metrics.NewCollector(reg, logging.WithComponent("metrics"), iface.Identity(), counterInterval)
	} else {
		logger.Info("Interface counters unavailable inside a namespace", "netns", iface.Namespace())
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.MetricsListen != "" {
		srv := &http.Server{
			Addr:              s.MetricsListen,
			Handler:           newMux(reg, newChecker(ctrl, collector, s.Window)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serve(gctx, srv, logger) })
	}
	if collector != nil {
		g.Go(func() error { return collector.Run(gctx) })
	}
	g.Go(func() error {
		if err := ctrl.Run(gctx); err != nil {
			return err
		}
		// Stop the listener and collector when monitoring ends cleanly.
		return context.Canceled
	})

	err = g.Wait()
	if driver != nil {
		if cerr := driver.Close(); cerr != nil {
			logger.Warn("Closing link driver", "error", cerr)
		}
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// driverKeepalive maps the resolved setting, where zero means off, to the
// driver's convention, where negative means off.
func driverKeepalive(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

func probeConfig(s *config.Settings) monitor.ProbeConfig {
	return monitor.ProbeConfig{
		Target:     s.Probe.Target,
		Count:      s.Probe.Count,
		Interval:   s.Probe.Interval,
		Timeout:    s.Probe.Timeout,
		Size:       s.Probe.Size,
		Interface:  s.Interface.Identity(),
		Privileged: s.Probe.Privileged,
	}
}

func newProber(ns string, reg *metrics.Registry) *monitor.Prober {
	opts := []monitor.ProberOption{
		monitor.WithProberMetrics(reg),
		monitor.WithProberLogger(logging.WithComponent("probe")),
	}
	if ns != "" {
		opts = append(opts, monitor.WithExec(func(fn func() error) error {
			return network.InNamespace(ns, fn)
		}))
	}
	return monitor.NewProber(opts...)
}

func newChecker(ctrl *bringup.Controller, collector *metrics.Collector, window time.Duration) *health.Checker {
	clk := clock.Default()
	checker := health.NewChecker(health.WithClock(clk))
	checker.Register("bringup", health.StateCheck(bringupPhase(ctrl)))
	checker.Register("readiness", health.FreshnessCheck(clk, "readiness signal", ctrl.Readiness().LastSent, window))
	if collector != nil {
		checker.Register("counters", health.FreshnessCheck(clk, "counter sample", collector.LastUpdate, 3*counterInterval))
	}
	return checker
}

// bringupPhase reports a failed run under the state it failed in.
func bringupPhase(ctrl *bringup.Controller) health.StateFunc {
	return func() (string, bool, bool) {
		st := ctrl.State()
		return ctrl.FailedIn().String(), st == bringup.StateReady || st == bringup.StateMonitoring, st == bringup.StateFailed
	}
}

func newMux(reg *metrics.Registry, checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	mux.Handle("/livez", health.LivenessHandler())
	return mux
}

// serve runs srv until ctx is done, then shuts it down.
func serve(ctx context.Context, srv *http.Server, logger *logging.Logger) error {
	errc := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "listen", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics listener shutdown", "error", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
