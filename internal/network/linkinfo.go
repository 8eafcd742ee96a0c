package network

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsLinkInfo reads speed and duplex from sysfs. It is used for virtual
// NICs and whenever ethtool is unavailable.
type SysfsLinkInfo struct {
	Root string // defaults to /sys/class/net
}

// LinkInfo reads link info from sysfs (no ethtool warnings).
func (s SysfsLinkInfo) LinkInfo(iface string) (*LinkInfo, error) {
	base := filepath.Join(s.root(), iface)
	if _, err := os.Stat(base); err != nil {
		return nil, err
	}

	var speed uint32
	if data, err := os.ReadFile(filepath.Join(base, "speed")); err == nil {
		// -1 while the link is down
		if v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32); err == nil {
			speed = uint32(v)
		}
	}

	duplex := "unknown"
	if data, err := os.ReadFile(filepath.Join(base, "duplex")); err == nil {
		switch d := strings.TrimSpace(string(data)); d {
		case "full", "half":
			duplex = d
		}
	}

	return &LinkInfo{
		Speed:   speed,
		Duplex:  duplex,
		Autoneg: true, // sysfs doesn't expose this reliably
	}, nil
}

// IsVirtual detects virtual NICs that don't support full ethtool features.
func (s SysfsLinkInfo) IsVirtual(name string) bool {
	base := filepath.Join(s.root(), name, "device")

	if target, err := os.Readlink(filepath.Join(base, "driver")); err == nil {
		switch filepath.Base(target) {
		case "virtio_net", "veth", "tun", "tap", "bridge", "dummy",
			"xen_netfront", "vmxnet3", "hv_netvsc", "e1000", "e1000e":
			return true
		}
	}

	// modalias is reliable for KVM/QEMU
	if data, err := os.ReadFile(filepath.Join(base, "modalias")); err == nil {
		if strings.HasPrefix(string(data), "virtio") {
			return true
		}
	}

	// No device directory means virtual interface
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return true
	}
	return false
}

func (s SysfsLinkInfo) root() string {
	if s.Root == "" {
		return "/sys/class/net"
	}
	return s.Root
}
