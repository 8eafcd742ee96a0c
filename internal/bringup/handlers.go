package bringup

import (
	"grimm.is/linkup/internal/events"
	"grimm.is/linkup/internal/logging"
	"grimm.is/linkup/internal/metrics"
	"grimm.is/linkup/internal/monitor"
)

// handlerContext is bound into every bus handler. Handlers touch nothing
// else, so they can be tested by calling them directly.
type handlerContext struct {
	readiness *monitor.Readiness
	logger    *logging.Logger
	metrics   *metrics.Registry
}

func (h *handlerContext) count(e events.Event) {
	if h.metrics != nil {
		h.metrics.LifecycleEvents.WithLabelValues(string(e.Kind)).Inc()
	}
}

// onSystemEvent logs generic system events. The system category also sees
// link and ip events; those are counted by their own handlers.
func onSystemEvent(h *handlerContext, e events.Event) {
	if e.Kind.Category() != events.CategorySystem {
		return
	}
	h.count(e)
	if d, ok := e.Data.(events.SystemData); ok {
		h.logger.Debug("System event", "source", e.Source, "message", d.Message)
		return
	}
	h.logger.Debug("System event", "source", e.Source, "kind", e.Kind)
}

func onLinkEvent(h *handlerContext, e events.Event) {
	h.count(e)
	d, ok := e.Data.(events.LinkStateData)
	if !ok {
		h.logger.Debug("Link event", "kind", e.Kind)
		return
	}
	h.logger.Info("Link state", "interface", d.Interface, "up", d.Up,
		"oper_state", d.OperState, "speed_mbps", d.SpeedMbps, "duplex", d.Duplex)
}

// onIPEvent feeds the readiness channel. Only an assigned IPv4 lease
// produces a signal.
func onIPEvent(h *handlerContext, e events.Event) {
	h.count(e)
	d, _ := e.Data.(events.LeaseData)

	switch e.Kind {
	case events.KindIPLeaseAssigned:
		h.logger.Info("IP assigned", "interface", d.Interface, "ip", d.IP.String(),
			"router", d.Router.String(), "renewal", d.Renewal)
		if !h.readiness.Send(monitor.SignalIPAssigned) {
			h.logger.Warn("Readiness channel full, signal dropped", "interface", d.Interface)
		}
	case events.KindIPLeaseAssignedSecondary:
		h.logger.Info("Secondary IP assigned", "interface", d.Interface, "ip", d.IP.String())
	case events.KindIPLeaseReleased:
		h.logger.Warn("IP released", "interface", d.Interface, "ip", d.IP.String())
	case events.KindIPv6LeaseAssigned:
		h.logger.Warn("Ignoring IPv6 lease", "interface", d.Interface, "ip", d.IP.String(),
			"error", ErrIPv6Unsupported)
	default:
		h.logger.Debug("IP event", "kind", e.Kind)
	}
}
