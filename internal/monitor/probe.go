package monitor

import (
	"errors"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"grimm.is/linkup/internal/logging"
	"grimm.is/linkup/internal/metrics"
)

var (
	ErrProbe              = errors.New("probe failed")
	ErrInvalidProbeConfig = errors.New("invalid probe config")
)

// ProbeConfig describes one connectivity check.
type ProbeConfig struct {
	Target   net.IP
	Count    int
	Interval time.Duration

	// Timeout bounds the wait for the last reply after the final send.
	Timeout time.Duration
	Size    int

	// Interface binds the ICMP socket to a link when set.
	Interface  string
	Privileged bool
}

// Deadline is the overall limit handed to the pinger.
func (c ProbeConfig) Deadline() time.Duration {
	return time.Duration(c.Count)*c.Interval + c.Timeout
}

func (c ProbeConfig) validate() error {
	switch {
	case c.Target == nil || c.Target.To4() == nil:
		return fmt.Errorf("%w: target %v is not an IPv4 address", ErrInvalidProbeConfig, c.Target)
	case c.Count <= 0:
		return fmt.Errorf("%w: count must be positive", ErrInvalidProbeConfig)
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidProbeConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidProbeConfig)
	case c.Size < 0:
		return fmt.Errorf("%w: size must not be negative", ErrInvalidProbeConfig)
	}
	return nil
}

// ProbeSummary is the outcome of a completed probe.
type ProbeSummary struct {
	Target   net.IP
	Sent     int
	Received int

	// Loss is the loss percentage, 0..100.
	Loss   float64
	MinRTT time.Duration
	AvgRTT time.Duration
	MaxRTT time.Duration
	StdDev time.Duration
}

// PingFunc sends the probes described by cfg and returns pro-bing's totals.
type PingFunc func(cfg ProbeConfig) (*probing.Statistics, error)

// RunPing is the production PingFunc.
var RunPing PingFunc = func(cfg ProbeConfig) (*probing.Statistics, error) {
	pinger, err := probing.NewPinger(cfg.Target.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = cfg.Count
	pinger.Interval = cfg.Interval
	pinger.Timeout = cfg.Deadline()
	pinger.Size = cfg.Size
	pinger.InterfaceName = cfg.Interface
	pinger.SetPrivileged(cfg.Privileged)

	if err := pinger.Run(); err != nil {
		return nil, err
	}
	return pinger.Statistics(), nil
}

// Prober runs blocking, sequential ICMP echo checks.
type Prober struct {
	ping    PingFunc
	wrap    func(func() error) error
	logger  *logging.Logger
	metrics *metrics.Registry
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithPingFunc replaces RunPing.
func WithPingFunc(fn PingFunc) ProberOption {
	return func(p *Prober) { p.ping = fn }
}

// WithExec runs every probe through wrap, e.g. inside a network namespace.
func WithExec(wrap func(func() error) error) ProberOption {
	return func(p *Prober) { p.wrap = wrap }
}

// WithProberMetrics records probe statistics.
func WithProberMetrics(m *metrics.Registry) ProberOption {
	return func(p *Prober) { p.metrics = m }
}

// WithProberLogger overrides the component logger.
func WithProberLogger(l *logging.Logger) ProberOption {
	return func(p *Prober) { p.logger = l }
}

// NewProber creates a Prober.
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		ping: RunPing,
		wrap: func(fn func() error) error { return fn() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.WithComponent("probe")
	}
	return p
}

// Probe sends cfg.Count echo requests and blocks until all replies arrived
// or the deadline passed. Packet loss is reported in the summary; only a
// transport failure is an error, and then no summary is returned.
func (p *Prober) Probe(cfg ProbeConfig) (*ProbeSummary, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbe, err)
	}

	p.logger.Info("Probing", "target", cfg.Target.String(), "count", cfg.Count,
		"interval", cfg.Interval, "timeout", cfg.Timeout, "size", cfg.Size)

	var stats *probing.Statistics
	err := p.wrap(func() error {
		var err error
		stats, err = p.ping(cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProbe, cfg.Target, err)
	}
	if stats == nil {
		return nil, fmt.Errorf("%w: %s: no statistics", ErrProbe, cfg.Target)
	}

	s := &ProbeSummary{
		Target:   cfg.Target,
		Sent:     stats.PacketsSent,
		Received: stats.PacketsRecv,
		Loss:     stats.PacketLoss,
		MinRTT:   stats.MinRtt,
		AvgRTT:   stats.AvgRtt,
		MaxRTT:   stats.MaxRtt,
		StdDev:   stats.StdDevRtt,
	}

	p.logger.Info("Probe complete", "target", cfg.Target.String(),
		"sent", s.Sent, "received", s.Received, "loss", fmt.Sprintf("%.1f%%", s.Loss),
		"min", s.MinRTT, "avg", s.AvgRTT, "max", s.MaxRTT, "stddev", s.StdDev)

	if p.metrics != nil {
		p.metrics.RecordProbe(s.MinRTT.Seconds(), s.AvgRTT.Seconds(), s.MaxRTT.Seconds(),
			s.StdDev.Seconds(), s.Loss/100)
	}
	return s, nil
}
