package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/linkup/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration. Length bounds on the
// interface block are left to NewInterfaceConfiguration so they surface as
// a ConfigError.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if v, err := ParseVersion(c.SchemaVersion); err != nil {
		errs = append(errs, ValidationError{Field: "schema_version", Message: err.Error()})
	} else if !IsSupportedVersion(v) {
		errs = append(errs, ValidationError{
			Field:   "schema_version",
			Message: fmt.Sprintf("unsupported version %s (current %s)", v, CurrentSchemaVersion),
		})
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{Field: "log_level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)})
	}

	errs = append(errs, c.validateInterface()...)
	errs = append(errs, c.validateProbe()...)
	errs = append(errs, c.validateMonitor()...)

	if c.Metrics != nil && c.Metrics.Listen != "" {
		if err := validation.ValidateListenAddr(c.Metrics.Listen); err != nil {
			errs = append(errs, ValidationError{Field: "metrics.listen", Message: err.Error()})
		}
	}

	return errs
}

func (c *Config) validateInterface() ValidationErrors {
	var errs ValidationErrors
	iface := c.Interface
	if iface == nil {
		return append(errs, ValidationError{Field: "interface", Message: "an interface block is required"})
	}

	if err := validation.ValidateInterfaceName(iface.Name); err != nil {
		errs = append(errs, ValidationError{Field: "interface.name", Message: err.Error()})
	}
	if iface.Hostname != "" {
		if err := validation.ValidateHostname(iface.Hostname); err != nil {
			errs = append(errs, ValidationError{Field: "interface.hostname", Message: err.Error()})
		}
	}

	mode, err := ParseMode(iface.Mode)
	if err != nil {
		errs = append(errs, ValidationError{Field: "interface.mode", Message: err.Error()})
	}
	if mode == ModeStatic && iface.Address == "" {
		errs = append(errs, ValidationError{Field: "interface.address", Message: "required in static mode"})
	}
	if mode == ModeDHCP && (iface.Address != "" || iface.Gateway != "") {
		errs = append(errs, ValidationError{Field: "interface.address", Message: "address and gateway are only used in static mode"})
	}
	if iface.Address != "" {
		if err := validation.ValidateIPv4CIDR(iface.Address); err != nil {
			errs = append(errs, ValidationError{Field: "interface.address", Message: err.Error()})
		}
	}
	if iface.Gateway != "" {
		if err := validation.ValidateIPv4(iface.Gateway); err != nil {
			errs = append(errs, ValidationError{Field: "interface.gateway", Message: err.Error()})
		}
	}
	if iface.MAC != "" {
		if mac, err := net.ParseMAC(iface.MAC); err != nil || len(mac) != 6 {
			errs = append(errs, ValidationError{Field: "interface.mac", Message: fmt.Sprintf("invalid 6-byte MAC: %s", iface.MAC)})
		}
	}
	errs = append(errs, validateDuration("interface.link_timeout", iface.LinkTimeout)...)
	if iface.Table < 0 {
		errs = append(errs, ValidationError{Field: "interface.table", Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateProbe() ValidationErrors {
	var errs ValidationErrors
	p := c.Probe
	if p == nil {
		return nil
	}
	if p.Target != "" {
		if err := validation.ValidateIPv4(p.Target); err != nil {
			errs = append(errs, ValidationError{Field: "probe.target", Message: err.Error()})
		}
	}
	if p.Count < 0 {
		errs = append(errs, ValidationError{Field: "probe.count", Message: "must not be negative"})
	}
	if p.Size < 0 || p.Size > 65500 {
		errs = append(errs, ValidationError{Field: "probe.size", Message: fmt.Sprintf("must be between 0 and 65500, got %d", p.Size)})
	}
	errs = append(errs, validateDuration("probe.interval", p.Interval)...)
	errs = append(errs, validateDuration("probe.timeout", p.Timeout)...)
	return errs
}

func (c *Config) validateMonitor() ValidationErrors {
	if c.Monitor == nil {
		return nil
	}
	errs := validateDuration("monitor.window", c.Monitor.Window)
	if c.Monitor.Keepalive != KeepaliveOff {
		errs = append(errs, validateDuration("monitor.keepalive", c.Monitor.Keepalive)...)
	}
	window := DefaultWindow
	if d, err := time.ParseDuration(c.Monitor.Window); err == nil {
		window = d
	}
	keepalive := DefaultKeepalive
	if d, err := time.ParseDuration(c.Monitor.Keepalive); err == nil {
		keepalive = d
	}
	if c.Monitor.Keepalive != KeepaliveOff && keepalive >= window {
		errs = append(errs, ValidationError{Field: "monitor.keepalive", Message: fmt.Sprintf("must be shorter than the window (%s)", window)})
	}
	return errs
}

func validateDuration(field, s string) ValidationErrors {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ValidationErrors{{Field: field, Message: err.Error()}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be positive"}}
	}
	return nil
}
