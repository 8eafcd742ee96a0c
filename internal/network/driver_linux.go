//go:build linux
// +build linux

package network

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/linkup/internal/brand"
	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/config"
	"grimm.is/linkup/internal/events"
	"grimm.is/linkup/internal/logging"
)

// Default driver timings.
const (
	DefaultDHCPTimeout = 30 * time.Second
	DefaultKeepalive   = 2 * time.Second
)

// DriverOptions configures a LinkDriver. Zero fields use production
// defaults.
type DriverOptions struct {
	Netlinker     Netlinker
	LinkInfo      LinkInfoReader
	NewDHCPClient DHCPClientFactory
	Leases        *LeaseStore
	Clock         clock.Clock
	Logger        *logging.Logger

	// DHCPTimeout bounds the initial DORA exchange.
	DHCPTimeout time.Duration

	// Keepalive re-publishes the held address at this interval while it is
	// still on the link. Negative disables it.
	Keepalive time.Duration
}

// LinkDriver brings up one interface on Linux.
type LinkDriver struct {
	cfg    *config.InterfaceConfiguration
	bus    *events.Hub
	nl     Netlinker
	info   LinkInfoReader
	dhcp   DHCPClientFactory
	leases *LeaseStore
	clock  clock.Clock
	logger *logging.Logger

	dhcpTimeout time.Duration
	keepalive   time.Duration

	mu     sync.RWMutex
	index  int
	lease  *LeaseInfo
	client DHCPClient

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLinkDriver creates a driver for cfg. It opens the netlink and ethtool
// handles but touches no link state.
func NewLinkDriver(cfg *config.InterfaceConfiguration, bus *events.Hub, opts DriverOptions) (*LinkDriver, error) {
	if cfg == nil {
		return nil, errors.New("nil interface configuration")
	}

	d := &LinkDriver{
		cfg:         cfg,
		bus:         bus,
		nl:          opts.Netlinker,
		info:        opts.LinkInfo,
		dhcp:        opts.NewDHCPClient,
		leases:      opts.Leases,
		clock:       opts.Clock,
		logger:      opts.Logger,
		dhcpTimeout: opts.DHCPTimeout,
		keepalive:   opts.Keepalive,
		stop:        make(chan struct{}),
	}
	if d.logger == nil {
		d.logger = logging.WithComponent("link")
	}
	d.logger = d.logger.With("interface", cfg.Identity())
	if d.clock == nil {
		d.clock = clock.Default()
	}
	if d.dhcpTimeout <= 0 {
		d.dhcpTimeout = DefaultDHCPTimeout
	}
	if d.keepalive == 0 {
		d.keepalive = DefaultKeepalive
	}
	if d.leases == nil {
		d.leases = NewLeaseStore(brand.GetStateDir())
	}
	if d.dhcp == nil {
		d.dhcp = NewNclient4Factory(cfg.Namespace())
	}
	if d.nl == nil {
		nl, err := NewRealNetlinker(cfg.Namespace())
		if err != nil {
			return nil, err
		}
		d.nl = nl
	}
	if d.info == nil {
		r, err := NewEthtoolReader(cfg.Namespace())
		if err != nil {
			d.logger.Warn("ethtool unavailable, using sysfs", "error", err)
			d.info = SysfsLinkInfo{}
		} else {
			d.info = r
		}
	}
	return d, nil
}

// Name returns the interface name.
func (d *LinkDriver) Name() string { return d.cfg.Identity() }

// Index returns the kernel link index, 0 before Start.
func (d *LinkDriver) Index() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index
}

// Lease returns the held address.
func (d *LinkDriver) Lease() (LeaseInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lease == nil {
		return LeaseInfo{}, ErrNoLease
	}
	return *d.lease, nil
}

func (d *LinkDriver) setLease(l LeaseInfo) {
	d.mu.Lock()
	d.lease = &l
	d.mu.Unlock()
}

func (d *LinkDriver) clearLease() {
	d.mu.Lock()
	d.lease = nil
	d.mu.Unlock()
}

// Start resolves the link, applies the MAC override and alias, sets it up
// and blocks until carrier or the configured link timeout.
func (d *LinkDriver) Start() error {
	name := d.cfg.Identity()

	link, err := d.nl.LinkByName(name)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", name, err)
	}
	attrs := link.Attrs()
	d.mu.Lock()
	d.index = attrs.Index
	d.mu.Unlock()

	if d.cfg.HasMACOverride() {
		mac := d.cfg.MAC()
		if !bytes.Equal(attrs.HardwareAddr, mac) {
			d.logger.Info("Setting hardware address", "mac", mac.String())
			if err := d.nl.LinkSetHardwareAddr(link, mac); err != nil {
				return fmt.Errorf("failed to set MAC %s: %w", mac, err)
			}
		}
	}
	if desc := d.cfg.Description(); desc != "" && attrs.Alias != desc {
		if err := d.nl.LinkSetAlias(link, desc); err != nil {
			return fmt.Errorf("failed to set alias: %w", err)
		}
	}

	// Subscribe before setting up so the carrier transition cannot be missed.
	updates := make(chan netlink.LinkUpdate, 16)
	done := make(chan struct{})
	if err := d.nl.LinkSubscribe(updates, done); err != nil {
		return fmt.Errorf("failed to subscribe to link updates: %w", err)
	}
	defer func() {
		close(done)
		go drain[netlink.LinkUpdate](updates)
	}()

	if err := d.nl.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to set %s up: %w", name, err)
	}

	if current, err := d.nl.LinkByIndex(attrs.Index); err == nil && linkUp(current) {
		d.publishLink(current)
		return nil
	}

	timeout := d.clock.After(d.cfg.LinkTimeout())
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return errors.New("link subscription closed")
			}
			if u.Link == nil || u.Link.Attrs().Index != attrs.Index {
				continue
			}
			if linkUp(u.Link) {
				d.publishLink(u.Link)
				return nil
			}
			d.logger.Debug("Link update", "oper_state", u.Link.Attrs().OperState.String())
		case <-timeout:
			return fmt.Errorf("%w: %s after %s", ErrLinkTimeout, name, d.cfg.LinkTimeout())
		}
	}
}

// linkUp reports carrier: operstate up, or unknown with IFF_LOWER_UP as
// reported by drivers without operstate support.
func linkUp(link netlink.Link) bool {
	a := link.Attrs()
	if a.OperState == netlink.OperUp {
		return true
	}
	return a.OperState == netlink.OperUnknown &&
		a.Flags&net.FlagUp != 0 &&
		a.RawFlags&unix.IFF_LOWER_UP != 0
}

func drain[T any](ch <-chan T) {
	for range ch {
	}
}

func (d *LinkDriver) publishLink(link netlink.Link) {
	a := link.Attrs()
	data := events.LinkStateData{
		Interface: a.Name,
		Index:     a.Index,
		Up:        true,
		OperState: a.OperState.String(),
	}
	if li, err := d.info.LinkInfo(a.Name); err == nil {
		data.SpeedMbps = li.Speed
		data.Duplex = li.Duplex
	} else {
		d.logger.Debug("No link settings", "error", err)
	}
	d.logger.Info("Link up", "speed_mbps", data.SpeedMbps, "duplex", data.Duplex)
	d.bus.EmitLinkState(data)
}

// WaitForReady blocks until the interface holds an IPv4 address, by DHCP or
// static configuration, then starts the background watchers.
func (d *LinkDriver) WaitForReady() error {
	link, err := d.nl.LinkByIndex(d.Index())
	if err != nil {
		return fmt.Errorf("interface %s vanished: %w", d.cfg.Identity(), err)
	}

	switch d.cfg.Mode() {
	case config.ModeStatic:
		err = d.applyStatic(link)
	default:
		err = d.acquireDHCP(link)
	}
	if err != nil {
		return err
	}

	if err := d.startWatcher(); err != nil {
		d.logger.Warn("Address watcher unavailable", "error", err)
	}
	if d.keepalive > 0 {
		d.wg.Add(1)
		go d.runKeepalive()
	}
	return nil
}

func (d *LinkDriver) applyStatic(link netlink.Link) error {
	addr := d.cfg.Address()
	if err := d.ensureAddr(link, addr); err != nil {
		return err
	}
	gw := d.cfg.Gateway()
	if gw != nil {
		if err := d.ensureDefaultRoute(link, gw); err != nil {
			return err
		}
	}

	info := LeaseInfo{
		Interface:  d.cfg.Identity(),
		IPAddress:  addr.IP,
		SubnetMask: addr.Mask,
		Router:     gw,
		ObtainedAt: d.clock.Now(),
		Static:     true,
	}
	d.setLease(info)
	d.publishLease(events.KindIPLeaseAssigned, "static", info, false)
	return nil
}

// ensureAddr adds addr unless it is already present.
func (d *LinkDriver) ensureAddr(link netlink.Link, addr *net.IPNet) error {
	current, _ := d.nl.AddrList(link, netlink.FAMILY_V4)
	for _, a := range current {
		if a.IPNet != nil && a.IPNet.String() == addr.String() {
			d.logger.Debug("Address already exists on interface", "address", addr.String())
			return nil
		}
	}

	d.logger.Info("Assigning IP", "address", addr.String())
	if err := d.nl.AddrAdd(link, &netlink.Addr{IPNet: addr}); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil
		}
		return fmt.Errorf("failed to add address %s: %w", addr, err)
	}
	return nil
}

func (d *LinkDriver) ensureDefaultRoute(link netlink.Link, gw net.IP) error {
	d.logger.Info("Adding default route", "gateway", gw.String(), "table", d.cfg.RouteTable())
	route := &netlink.Route{
		Gw:        gw,
		LinkIndex: link.Attrs().Index,
		Table:     d.cfg.RouteTable(), // 0 = main
	}
	if err := d.nl.RouteReplace(route); err != nil {
		return fmt.Errorf("failed to add default route via %s: %w", gw, err)
	}
	return nil
}

func (d *LinkDriver) publishLease(kind events.Kind, source string, l LeaseInfo, renewal bool) {
	d.bus.EmitLease(kind, source, events.LeaseData{
		Interface: l.Interface,
		IP:        l.IPAddress,
		Mask:      l.SubnetMask,
		Router:    l.Router,
		DNS:       l.DNSServers,
		LeaseTime: l.LeaseTime,
		Renewal:   renewal,
	})
}

// Close stops the background goroutines and releases the handles. The
// address stays on the link.
func (d *LinkDriver) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()

	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}
	if r, ok := d.info.(*EthtoolReader); ok {
		r.Close()
	}
	d.nl.Close()
	return err
}

// runKeepalive confirms the held address while it remains on the link.
func (d *LinkDriver) runKeepalive() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stop:
			return
		case <-d.clock.After(d.keepalive):
		}

		lease, err := d.Lease()
		if err != nil {
			continue
		}
		link, err := d.nl.LinkByIndex(d.Index())
		if err != nil {
			d.logger.Warn("Keepalive: link lookup failed", "error", err)
			continue
		}
		if !linkUp(link) {
			d.logger.Warn("Keepalive: link has no carrier")
			continue
		}
		if !d.hasAddr(link, lease.IPAddress) {
			d.logger.Warn("Keepalive: address missing", "ip", lease.IPAddress.String())
			continue
		}
		d.publishLease(events.KindIPLeaseAssigned, "keepalive", lease, false)
	}
}

func (d *LinkDriver) hasAddr(link netlink.Link, ip net.IP) bool {
	addrs, err := d.nl.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if a.IPNet != nil && a.IP.Equal(ip) {
			return true
		}
	}
	return false
}
