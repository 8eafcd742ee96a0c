//go:build linux
// +build linux

package network

import (
	"fmt"

	"github.com/safchain/ethtool"
)

// EthtoolReader reads link settings with ethtool, falling back to sysfs.
type EthtoolReader struct {
	handle *ethtool.Ethtool
	sysfs  SysfsLinkInfo
}

// NewEthtoolReader opens an ethtool socket in the named namespace.
func NewEthtoolReader(nsName string) (*EthtoolReader, error) {
	var h *ethtool.Ethtool
	err := InNamespace(nsName, func() error {
		var err error
		h, err = ethtool.NewEthtool()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ethtool handle: %w", err)
	}
	return &EthtoolReader{handle: h}, nil
}

// Close closes the ethtool handle.
func (r *EthtoolReader) Close() {
	r.handle.Close()
}

// LinkInfo returns link speed, duplex, and autoneg status.
func (r *EthtoolReader) LinkInfo(iface string) (*LinkInfo, error) {
	if r.sysfs.IsVirtual(iface) {
		return r.sysfs.LinkInfo(iface)
	}

	settings, err := r.handle.GetLinkSettings(iface)
	if err != nil {
		return r.sysfs.LinkInfo(iface)
	}

	duplex := "unknown"
	switch settings.Duplex {
	case ethtool.DUPLEX_FULL:
		duplex = "full"
	case ethtool.DUPLEX_HALF:
		duplex = "half"
	}

	return &LinkInfo{
		Speed:   settings.Speed,
		Duplex:  duplex,
		Autoneg: settings.Autoneg != 0,
	}, nil
}
