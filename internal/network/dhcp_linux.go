//go:build linux
// +build linux

package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/vishvananda/netlink"

	"grimm.is/linkup/internal/events"
)

// Renewal retry timings.
const (
	renewRetryDelay = 10 * time.Second
	rebindMaxDelay  = 60 * time.Second
)

// DHCPClient is the subset of *nclient4.Client the driver uses.
type DHCPClient interface {
	Request(ctx context.Context, modifiers ...dhcpv4.Modifier) (*nclient4.Lease, error)
	Renew(ctx context.Context, lease *nclient4.Lease, modifiers ...dhcpv4.Modifier) (*nclient4.Lease, error)
	Close() error
}

// DHCPClientFactory opens a DHCP client on an interface.
type DHCPClientFactory func(iface string) (DHCPClient, error)

// NewNclient4Factory returns a factory whose sockets are opened inside the
// named namespace.
func NewNclient4Factory(nsName string) DHCPClientFactory {
	return func(iface string) (DHCPClient, error) {
		var client *nclient4.Client
		err := InNamespace(nsName, func() error {
			var err error
			client, err = nclient4.New(iface)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DHCP client for %s: %w", iface, err)
		}
		return client, nil
	}
}

func (d *LinkDriver) modifiers() []dhcpv4.Modifier {
	if h := d.cfg.Hostname(); h != "" {
		return []dhcpv4.Modifier{dhcpv4.WithOption(dhcpv4.OptHostName(h))}
	}
	return nil
}

// acquireDHCP reuses a still-valid saved lease or runs DORA, applies the
// result and starts the renewal loop.
func (d *LinkDriver) acquireDHCP(link netlink.Link) error {
	name := d.cfg.Identity()
	d.logger.Info("Starting DHCP client", "hostname", d.cfg.Hostname())

	client, err := d.dhcp(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.client = client
	d.mu.Unlock()

	lease, obtained := d.loadSavedLease()
	if lease == nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.dhcpTimeout)
		defer cancel()

		lease, err = client.Request(ctx, d.modifiers()...)
		if err != nil {
			return fmt.Errorf("DHCP handshake failed on %s: %w", name, err)
		}
		obtained = d.clock.Now()
		d.saveLease(lease, obtained)
	}

	info, err := d.applyDHCPLease(link, lease, obtained)
	if err != nil {
		return err
	}
	d.publishLease(events.KindIPLeaseAssigned, "dhcp", info, false)

	d.wg.Add(1)
	go d.runRenewal(client, lease, obtained)
	return nil
}

func (d *LinkDriver) loadSavedLease() (*nclient4.Lease, time.Time) {
	name := d.cfg.Identity()
	ack, offer, obtained, err := d.leases.Load(name)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn("Discarding saved lease", "error", err)
			_ = d.leases.Remove(name)
		}
		return nil, time.Time{}
	}
	if !leaseValid(ack, obtained, d.clock.Now()) {
		d.logger.Info("Saved lease expired, starting fresh discovery")
		return nil, time.Time{}
	}
	d.logger.Info("Reusing saved lease", "ip", ack.YourIPAddr.String(),
		"expires_in", ack.IPAddressLeaseTime(0)-d.clock.Since(obtained))
	return &nclient4.Lease{ACK: ack, Offer: offer, CreationTime: obtained}, obtained
}

func (d *LinkDriver) saveLease(lease *nclient4.Lease, obtained time.Time) {
	if err := d.leases.Save(d.cfg.Identity(), lease.ACK, lease.Offer, obtained); err != nil {
		d.logger.Warn("Failed to save lease", "error", err)
	}
}

// applyDHCPLease configures the interface with lease info.
func (d *LinkDriver) applyDHCPLease(link netlink.Link, lease *nclient4.Lease, obtained time.Time) (LeaseInfo, error) {
	if lease == nil || lease.ACK == nil {
		return LeaseInfo{}, errors.New("lease has no ACK")
	}
	info := leaseInfoFromACK(d.cfg.Identity(), d.cfg.Hostname(), lease.ACK, obtained)

	if err := d.ensureAddr(link, info.IPNet()); err != nil {
		return LeaseInfo{}, err
	}
	if info.Router != nil {
		if err := d.ensureDefaultRoute(link, info.Router); err != nil {
			return LeaseInfo{}, err
		}
	} else {
		d.logger.Debug("No routers in lease")
	}
	if len(info.DNSServers) > 0 {
		d.logger.Info("DHCP DNS servers", "servers", info.DNSServers)
	}

	d.setLease(info)
	return info, nil
}

// runRenewal renews at T1 until the driver is closed. A lease that expires
// without renewal is released and rediscovered with backoff.
func (d *LinkDriver) runRenewal(client DHCPClient, lease *nclient4.Lease, obtained time.Time) {
	defer d.wg.Done()
	name := d.cfg.Identity()

	for {
		wait := renewalDelay(lease.ACK, d.clock.Since(obtained))
		d.logger.Debug("DHCP lease active", "renew_in", wait)
		if !d.sleep(wait) {
			return
		}

		d.logger.Info("Renewing DHCP lease")
		ctx, cancel := d.opContext()
		renewed, err := client.Renew(ctx, lease, d.modifiers()...)
		cancel()
		rediscovered := false
		if err != nil {
			d.logger.Warn("DHCP renewal failed", "error", err)
			if leaseValid(lease.ACK, obtained, d.clock.Now()) {
				if !d.sleep(renewRetryDelay) {
					return
				}
				continue
			}
			if released := d.expire(lease); !released {
				return
			}
			renewed, err = d.rediscover(client)
			if err != nil {
				return
			}
			rediscovered = true
		}

		lease, obtained = renewed, d.clock.Now()
		d.saveLease(lease, obtained)

		link, err := d.nl.LinkByName(name)
		if err != nil {
			d.logger.Warn("Interface lookup failed after renewal", "error", err)
			continue
		}
		info, err := d.applyDHCPLease(link, lease, obtained)
		if err != nil {
			d.logger.Warn("Failed to re-apply DHCP lease", "error", err)
			continue
		}
		d.publishLease(events.KindIPLeaseAssigned, "dhcp", info, !rediscovered)
	}
}

// expire drops the lapsed lease and publishes IpLeaseReleased. It reports
// false when the driver is closing.
func (d *LinkDriver) expire(lease *nclient4.Lease) bool {
	select {
	case <-d.stop:
		return false
	default:
	}

	info, err := d.Lease()
	if err != nil {
		info = leaseInfoFromACK(d.cfg.Identity(), d.cfg.Hostname(), lease.ACK, d.clock.Now())
	}
	d.logger.Warn("DHCP lease expired", "ip", info.IPAddress.String())
	d.clearLease()
	_ = d.leases.Remove(d.cfg.Identity())

	if link, err := d.nl.LinkByName(d.cfg.Identity()); err == nil {
		if err := d.nl.AddrDel(link, &netlink.Addr{IPNet: info.IPNet()}); err != nil {
			d.logger.Debug("AddrDel failed", "error", err)
		}
	}
	d.publishLease(events.KindIPLeaseReleased, "dhcp", info, false)
	return true
}

// rediscover retries DORA with exponential backoff until it succeeds or the
// driver closes.
func (d *LinkDriver) rediscover(client DHCPClient) (*nclient4.Lease, error) {
	backoff := 2 * time.Second
	for {
		ctx, cancel := d.opContext()
		lease, err := client.Request(ctx, d.modifiers()...)
		cancel()
		if err == nil {
			return lease, nil
		}
		d.logger.Warn("DHCP retry failed", "error", err, "next", backoff)
		if !d.sleep(backoff) {
			return nil, errors.New("driver closed")
		}
		if backoff < rebindMaxDelay {
			backoff *= 2
		}
	}
}

// opContext bounds one DHCP exchange and ends it early on Close.
func (d *LinkDriver) opContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), d.dhcpTimeout)
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// sleep waits for dur on the driver clock. It reports false on Close.
func (d *LinkDriver) sleep(dur time.Duration) bool {
	select {
	case <-d.stop:
		return false
	case <-d.clock.After(dur):
		return true
	}
}

// leaseIP is the primary address, for the watcher.
func (d *LinkDriver) leaseIP() net.IP {
	l, err := d.Lease()
	if err != nil {
		return nil
	}
	return l.IPAddress
}
