//go:build linux
// +build linux

package network

import (
	"github.com/vishvananda/netlink"

	"grimm.is/linkup/internal/config"
	"grimm.is/linkup/internal/events"
)

// startWatcher subscribes to address updates on the link and republishes
// them as lifecycle events.
func (d *LinkDriver) startWatcher() error {
	updates := make(chan netlink.AddrUpdate, 16)
	done := make(chan struct{})
	if err := d.nl.AddrSubscribe(updates, done); err != nil {
		close(done)
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			close(done)
			go drain[netlink.AddrUpdate](updates)
		}()

		for {
			select {
			case <-d.stop:
				return
			case u, ok := <-updates:
				if !ok {
					d.logger.Warn("Address subscription closed")
					return
				}
				d.handleAddrUpdate(u)
			}
		}
	}()
	return nil
}

func (d *LinkDriver) handleAddrUpdate(u netlink.AddrUpdate) {
	if u.LinkIndex != d.Index() {
		return
	}
	ip := u.LinkAddress.IP
	data := events.LeaseData{
		Interface: d.cfg.Identity(),
		IP:        ip,
		Mask:      u.LinkAddress.Mask,
	}

	if ip.To4() == nil {
		if u.NewAddr && ip.IsGlobalUnicast() {
			d.logger.Debug("IPv6 address added", "address", u.LinkAddress.String())
			d.bus.EmitLease(events.KindIPv6LeaseAssigned, "addr", data)
		}
		return
	}

	primary := d.leaseIP()
	isPrimary := primary != nil && primary.Equal(ip)

	switch {
	case u.NewAddr && !isPrimary:
		d.logger.Info("Secondary address added", "address", u.LinkAddress.String())
		d.bus.EmitLease(events.KindIPLeaseAssignedSecondary, "addr", data)
	case u.NewAddr && d.cfg.Mode() == config.ModeStatic:
		// Static addresses have no renewal; a re-add confirms them.
		if l, err := d.Lease(); err == nil {
			d.publishLease(events.KindIPLeaseAssigned, "addr", l, false)
		}
	case !u.NewAddr && isPrimary:
		d.logger.Warn("Primary address removed", "address", u.LinkAddress.String())
		d.bus.EmitLease(events.KindIPLeaseReleased, "addr", data)
	}
}
