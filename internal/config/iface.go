package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Length bounds applied by NewInterfaceConfiguration, in bytes.
const (
	// MaxIdentityLen is IFNAMSIZ-1, the longest link name the kernel accepts.
	MaxIdentityLen = 15
	// MaxDescriptionLen bounds the link alias.
	MaxDescriptionLen = 64
	// MaxHostnameLen bounds the DHCP hostname hint (option 12).
	MaxHostnameLen = 30
)

// DefaultLinkTimeout is how long the driver waits for carrier after setting
// the link up.
const DefaultLinkTimeout = 30 * time.Second

var (
	ErrIdentityEmpty         = errors.New("identity is empty")
	ErrIdentityTooLong       = errors.New("identity too long")
	ErrDescriptionTooLong    = errors.New("description too long")
	ErrHostnameTooLong       = errors.New("hostname too long")
	ErrInvalidMAC            = errors.New("hardware address must be 6 bytes")
	ErrInvalidMode           = errors.New("unknown addressing mode")
	ErrStaticAddressRequired = errors.New("static mode requires an address")
)

// ConfigError reports a malformed interface configuration. It is returned
// before any hardware action is taken.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// AddressingMode selects how the interface obtains its IPv4 address.
type AddressingMode int

const (
	// ModeDHCP runs a DHCPv4 client on the interface.
	ModeDHCP AddressingMode = iota
	// ModeStatic applies a fixed address and optional gateway.
	ModeStatic
)

func (m AddressingMode) String() string {
	switch m {
	case ModeDHCP:
		return "dhcp"
	case ModeStatic:
		return "static"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps the config spelling of a mode to an AddressingMode.
// An empty string selects DHCP.
func ParseMode(s string) (AddressingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dhcp", "client-dhcp":
		return ModeDHCP, nil
	case "static":
		return ModeStatic, nil
	default:
		return ModeDHCP, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// InterfaceSpec is the caller-supplied input to NewInterfaceConfiguration.
type InterfaceSpec struct {
	Identity    string
	Description string

	// MAC overrides the hardware address when non-nil.
	MAC      net.HardwareAddr
	Mode     AddressingMode
	Hostname string

	// Static mode only.
	Address *net.IPNet
	Gateway net.IP

	Namespace   string
	LinkTimeout time.Duration
	RouteTable  int
}

// InterfaceConfiguration is the immutable record the bring-up controller
// hands to the link driver. Construct it with NewInterfaceConfiguration.
type InterfaceConfiguration struct {
	identity    string
	description string
	mac         net.HardwareAddr
	mode        AddressingMode
	hostname    string
	address     *net.IPNet
	gateway     net.IP
	namespace   string
	linkTimeout time.Duration
	routeTable  int
}

// NewInterfaceConfiguration validates spec and returns an immutable
// configuration. It has no side effects; on error nothing is constructed.
func NewInterfaceConfiguration(spec InterfaceSpec) (*InterfaceConfiguration, error) {
	if spec.Identity == "" {
		return nil, &ConfigError{Field: "identity", Err: ErrIdentityEmpty}
	}
	if len(spec.Identity) > MaxIdentityLen {
		return nil, &ConfigError{Field: "identity", Err: fmt.Errorf("%w: %d > %d bytes", ErrIdentityTooLong, len(spec.Identity), MaxIdentityLen)}
	}
	if len(spec.Description) > MaxDescriptionLen {
		return nil, &ConfigError{Field: "description", Err: fmt.Errorf("%w: %d > %d bytes", ErrDescriptionTooLong, len(spec.Description), MaxDescriptionLen)}
	}
	if len(spec.Hostname) > MaxHostnameLen {
		return nil, &ConfigError{Field: "hostname", Err: fmt.Errorf("%w: %d > %d bytes", ErrHostnameTooLong, len(spec.Hostname), MaxHostnameLen)}
	}
	if spec.MAC != nil && len(spec.MAC) != 6 {
		return nil, &ConfigError{Field: "mac", Err: ErrInvalidMAC}
	}
	switch spec.Mode {
	case ModeDHCP:
	case ModeStatic:
		if spec.Address == nil || spec.Address.IP.To4() == nil {
			return nil, &ConfigError{Field: "address", Err: ErrStaticAddressRequired}
		}
	default:
		return nil, &ConfigError{Field: "mode", Err: fmt.Errorf("%w: %d", ErrInvalidMode, int(spec.Mode))}
	}

	linkTimeout := spec.LinkTimeout
	if linkTimeout <= 0 {
		linkTimeout = DefaultLinkTimeout
	}

	return &InterfaceConfiguration{
		identity:    spec.Identity,
		description: spec.Description,
		mac:         cloneMAC(spec.MAC),
		mode:        spec.Mode,
		hostname:    spec.Hostname,
		address:     cloneIPNet(spec.Address),
		gateway:     cloneIP(spec.Gateway),
		namespace:   spec.Namespace,
		linkTimeout: linkTimeout,
		routeTable:  spec.RouteTable,
	}, nil
}

// Identity returns the link name.
func (c *InterfaceConfiguration) Identity() string { return c.identity }

// Description returns the link alias.
func (c *InterfaceConfiguration) Description() string { return c.description }

// MAC returns a copy of the hardware address override, or nil when absent.
func (c *InterfaceConfiguration) MAC() net.HardwareAddr { return cloneMAC(c.mac) }

// HasMACOverride reports whether a hardware address override is present.
func (c *InterfaceConfiguration) HasMACOverride() bool { return c.mac != nil }

// Mode returns the addressing mode.
func (c *InterfaceConfiguration) Mode() AddressingMode { return c.mode }

// Hostname returns the DHCP hostname hint, verbatim.
func (c *InterfaceConfiguration) Hostname() string { return c.hostname }

// Address returns a copy of the static address, or nil in DHCP mode.
func (c *InterfaceConfiguration) Address() *net.IPNet { return cloneIPNet(c.address) }

// Gateway returns a copy of the static gateway, or nil.
func (c *InterfaceConfiguration) Gateway() net.IP { return cloneIP(c.gateway) }

// Namespace returns the network namespace name, empty for the current one.
func (c *InterfaceConfiguration) Namespace() string { return c.namespace }

// LinkTimeout returns the driver's carrier wait bound.
func (c *InterfaceConfiguration) LinkTimeout() time.Duration { return c.linkTimeout }

// RouteTable returns the routing table for the default route (0 = main).
func (c *InterfaceConfiguration) RouteTable() int { return c.routeTable }

// Spec returns a copy of the input this configuration was built from, with
// defaults applied.
func (c *InterfaceConfiguration) Spec() InterfaceSpec {
	return InterfaceSpec{
		Identity:    c.identity,
		Description: c.description,
		MAC:         cloneMAC(c.mac),
		Mode:        c.mode,
		Hostname:    c.hostname,
		Address:     cloneIPNet(c.address),
		Gateway:     cloneIP(c.gateway),
		Namespace:   c.namespace,
		LinkTimeout: c.linkTimeout,
		RouteTable:  c.routeTable,
	}
}

func cloneMAC(m net.HardwareAddr) net.HardwareAddr {
	if m == nil {
		return nil
	}
	out := make(net.HardwareAddr, len(m))
	copy(out, m)
	return out
}

func cloneIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func cloneIPNet(n *net.IPNet) *net.IPNet {
	if n == nil {
		return nil
	}
	mask := make(net.IPMask, len(n.Mask))
	copy(mask, n.Mask)
	return &net.IPNet{IP: cloneIP(n.IP), Mask: mask}
}
