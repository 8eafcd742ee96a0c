// Package validation holds the syntax checks shared by the config loader.
package validation

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Characters the kernel accepts in a link name, minus shell metacharacters.
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@+-]+$`)

	// RFC 1123 label.
	hostnameLabelRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
)

// ValidateInterfaceName checks the characters of a link name. Length is
// checked by the interface configuration builder.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid interface name: %q", name)
	}
	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: %q (must be alphanumeric with -_.@+)", name)
	}
	return nil
}

// ValidateHostname checks that s is a dotted sequence of RFC 1123 labels.
func ValidateHostname(s string) error {
	if s == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	for _, label := range strings.Split(strings.TrimSuffix(s, "."), ".") {
		if len(label) > 63 {
			return fmt.Errorf("hostname label too long (max 63 characters): %s", label)
		}
		if !hostnameLabelRegex.MatchString(label) {
			return fmt.Errorf("invalid hostname label: %q", label)
		}
	}
	return nil
}

// ValidateIPOrCIDR validates an IP address or CIDR range
func ValidateIPOrCIDR(s string) error {
	if s == "" {
		return fmt.Errorf("IP/CIDR cannot be empty")
	}

	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		if err != nil {
			return fmt.Errorf("invalid CIDR: %w", err)
		}
		return nil
	}

	if net.ParseIP(s) == nil {
		return fmt.Errorf("invalid IP address: %s", s)
	}
	return nil
}

// ValidateIPv4CIDR validates an IPv4 address with a prefix length.
func ValidateIPv4CIDR(s string) error {
	if !strings.Contains(s, "/") {
		return fmt.Errorf("missing prefix length: %s", s)
	}
	if err := ValidateIPOrCIDR(s); err != nil {
		return err
	}
	if ip, _, _ := net.ParseCIDR(s); ip.To4() == nil {
		return fmt.Errorf("not an IPv4 CIDR: %s", s)
	}
	return nil
}

// ValidateIPv4 validates a bare IPv4 address.
func ValidateIPv4(s string) error {
	if strings.Contains(s, "/") {
		return fmt.Errorf("expected an address, not a CIDR: %s", s)
	}
	if err := ValidateIPOrCIDR(s); err != nil {
		return err
	}
	if net.ParseIP(s).To4() == nil {
		return fmt.Errorf("not an IPv4 address: %s", s)
	}
	return nil
}

// ValidatePortNumber validates a port number
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", port)
	}
	return nil
}

// ValidateListenAddr validates a host:port listen address. The host may be
// empty to listen on all addresses.
func ValidateListenAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port: %s", portStr)
	}
	if err := ValidatePortNumber(port); err != nil {
		return err
	}
	if host != "" && net.ParseIP(host) == nil {
		if err := ValidateHostname(host); err != nil {
			return err
		}
	}
	return nil
}
