package config

import (
	"fmt"
	"net"
	"time"
)

// Defaults for the probe and monitor blocks.
const (
	DefaultProbeTarget   = "192.168.88.1"
	DefaultProbeCount    = 10
	DefaultProbeInterval = time.Second
	DefaultProbeTimeout  = 10 * time.Second
	DefaultProbeSize     = 32
	DefaultWindow        = 5 * time.Second
	DefaultKeepalive     = 2 * time.Second
)

// KeepaliveOff disables the driver's periodic lease re-announcement.
const KeepaliveOff = "off"

// Config is the decoded HCL file.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`
	LogLevel      string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON       bool   `hcl:"log_json,optional" json:"log_json,omitempty"`

	Interface *Interface `hcl:"interface,block" json:"interface"`
	Probe     *Probe     `hcl:"probe,block" json:"probe,omitempty"`
	Monitor   *Monitor   `hcl:"monitor,block" json:"monitor,omitempty"`
	Metrics   *Metrics   `hcl:"metrics,block" json:"metrics,omitempty"`
}

// Interface describes the link to bring up.
type Interface struct {
	Name        string `hcl:"name,label" json:"name"`
	Description string `hcl:"description,optional" json:"description,omitempty"`
	MAC         string `hcl:"mac,optional" json:"mac,omitempty"` // Overrides the burned-in address

	// Mode is "dhcp" (default) or "static".
	Mode     string `hcl:"mode,optional" json:"mode,omitempty"`
	Hostname string `hcl:"hostname,optional" json:"hostname,omitempty"` // DHCP option 12

	Address string `hcl:"address,optional" json:"address,omitempty"` // CIDR, static mode only
	Gateway string `hcl:"gateway,optional" json:"gateway,omitempty"`

	Netns       string `hcl:"netns,optional" json:"netns,omitempty"`
	LinkTimeout string `hcl:"link_timeout,optional" json:"link_timeout,omitempty"`
	Table       int    `hcl:"table,optional" json:"table,omitempty"` // Routing table for the default route (0 = main)
}

// Probe configures the one-shot connectivity check.
type Probe struct {
	Target   string `hcl:"target,optional" json:"target,omitempty"`
	Count    int    `hcl:"count,optional" json:"count,omitempty"`
	Interval string `hcl:"interval,optional" json:"interval,omitempty"`
	Timeout  string `hcl:"timeout,optional" json:"timeout,omitempty"` // Per probe
	Size     int    `hcl:"size,optional" json:"size,omitempty"`

	// Unprivileged uses UDP ICMP sockets instead of raw ones.
	Unprivileged bool `hcl:"unprivileged,optional" json:"unprivileged,omitempty"`
}

// Monitor configures the liveness window.
type Monitor struct {
	Window string `hcl:"window,optional" json:"window,omitempty"`

	// Keepalive is how often the driver re-announces a held lease, or "off".
	Keepalive string `hcl:"keepalive,optional" json:"keepalive,omitempty"`
}

// Metrics configures the Prometheus listener.
type Metrics struct {
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// ProbeSettings is the resolved probe block.
type ProbeSettings struct {
	Target     net.IP
	Count      int
	Interval   time.Duration
	Timeout    time.Duration
	Size       int
	Privileged bool
}

// Settings is a fully resolved configuration ready for the supervisor.
type Settings struct {
	LogLevel      string
	LogJSON       bool
	Interface     *InterfaceConfiguration
	Probe         ProbeSettings
	Window        time.Duration
	Keepalive     time.Duration // Zero when disabled
	MetricsListen string
}

// Resolve validates the file and builds the runtime settings, including the
// immutable interface configuration.
func (c *Config) Resolve() (*Settings, error) {
	if errs := c.Validate(); errs.HasErrors() {
		return nil, errs
	}

	iface, err := c.Interface.spec()
	if err != nil {
		return nil, err
	}
	ifaceCfg, err := NewInterfaceConfiguration(iface)
	if err != nil {
		return nil, err
	}

	probe, err := c.Probe.settings()
	if err != nil {
		return nil, err
	}

	window := DefaultWindow
	if c.Monitor != nil && c.Monitor.Window != "" {
		window, err = time.ParseDuration(c.Monitor.Window)
		if err != nil {
			return nil, fmt.Errorf("monitor.window: %w", err)
		}
	}

	keepalive := DefaultKeepalive
	if c.Monitor != nil {
		switch c.Monitor.Keepalive {
		case "":
		case KeepaliveOff:
			keepalive = 0
		default:
			keepalive, err = time.ParseDuration(c.Monitor.Keepalive)
			if err != nil {
				return nil, fmt.Errorf("monitor.keepalive: %w", err)
			}
		}
	}

	s := &Settings{
		LogLevel:  c.LogLevel,
		LogJSON:   c.LogJSON,
		Interface: ifaceCfg,
		Probe:     probe,
		Window:    window,
		Keepalive: keepalive,
	}
	if c.Metrics != nil {
		s.MetricsListen = c.Metrics.Listen
	}
	return s, nil
}

func (i *Interface) spec() (InterfaceSpec, error) {
	mode, err := ParseMode(i.Mode)
	if err != nil {
		return InterfaceSpec{}, &ConfigError{Field: "mode", Err: err}
	}

	spec := InterfaceSpec{
		Identity:    i.Name,
		Description: i.Description,
		Mode:        mode,
		Hostname:    i.Hostname,
		Namespace:   i.Netns,
		RouteTable:  i.Table,
	}

	if i.MAC != "" {
		mac, err := net.ParseMAC(i.MAC)
		if err != nil {
			return InterfaceSpec{}, &ConfigError{Field: "mac", Err: err}
		}
		spec.MAC = mac
	}
	if i.Address != "" {
		ip, ipNet, err := net.ParseCIDR(i.Address)
		if err != nil {
			return InterfaceSpec{}, &ConfigError{Field: "address", Err: err}
		}
		ipNet.IP = ip
		spec.Address = ipNet
	}
	if i.Gateway != "" {
		spec.Gateway = net.ParseIP(i.Gateway)
		if spec.Gateway == nil {
			return InterfaceSpec{}, &ConfigError{Field: "gateway", Err: fmt.Errorf("invalid IP %q", i.Gateway)}
		}
	}
	if i.LinkTimeout != "" {
		d, err := time.ParseDuration(i.LinkTimeout)
		if err != nil {
			return InterfaceSpec{}, &ConfigError{Field: "link_timeout", Err: err}
		}
		spec.LinkTimeout = d
	}
	return spec, nil
}

func (p *Probe) settings() (ProbeSettings, error) {
	s := ProbeSettings{
		Target:     net.ParseIP(DefaultProbeTarget),
		Count:      DefaultProbeCount,
		Interval:   DefaultProbeInterval,
		Timeout:    DefaultProbeTimeout,
		Size:       DefaultProbeSize,
		Privileged: true,
	}
	if p == nil {
		return s, nil
	}

	var err error
	if p.Target != "" {
		s.Target = net.ParseIP(p.Target)
		if s.Target == nil {
			return s, fmt.Errorf("probe.target: invalid IP %q", p.Target)
		}
	}
	if p.Count != 0 {
		s.Count = p.Count
	}
	if p.Interval != "" {
		if s.Interval, err = time.ParseDuration(p.Interval); err != nil {
			return s, fmt.Errorf("probe.interval: %w", err)
		}
	}
	if p.Timeout != "" {
		if s.Timeout, err = time.ParseDuration(p.Timeout); err != nil {
			return s, fmt.Errorf("probe.timeout: %w", err)
		}
	}
	if p.Size != 0 {
		s.Size = p.Size
	}
	s.Privileged = !p.Unprivileged
	return s, nil
}
