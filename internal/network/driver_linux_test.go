//go:build linux

package network

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/config"
	"grimm.is/linkup/internal/events"
)

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeDHCP records requests and serves a fixed ACK. Queued errors are
// returned one per call before err applies.
type fakeDHCP struct {
	mu          sync.Mutex
	ack         *dhcpv4.DHCPv4
	err         error
	requestErrs []error
	renewErrs   []error
	requests    int
	renews      int
	hostnames   []string
	closed      bool
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func (f *fakeDHCP) failNext(requests, renews []error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestErrs = append(f.requestErrs, requests...)
	f.renewErrs = append(f.renewErrs, renews...)
}

func (f *fakeDHCP) record(mods []dhcpv4.Modifier) {
	pkt, _ := dhcpv4.New(mods...)
	f.hostnames = append(f.hostnames, pkt.HostName())
}

func (f *fakeDHCP) Request(ctx context.Context, mods ...dhcpv4.Modifier) (*nclient4.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.record(mods)
	if err := pop(&f.requestErrs); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &nclient4.Lease{ACK: f.ack, CreationTime: epoch}, nil
}

func (f *fakeDHCP) Renew(ctx context.Context, lease *nclient4.Lease, mods ...dhcpv4.Modifier) (*nclient4.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	f.record(mods)
	if err := pop(&f.renewErrs); err != nil {
		return nil, err
	}
	return &nclient4.Lease{ACK: f.ack}, nil
}

func (f *fakeDHCP) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDHCP) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeDHCP) Renews() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renews
}

type fixture struct {
	nl     *MockNetlinker
	info   *MockLinkInfoReader
	dhcp   *fakeDHCP
	clock  *clock.MockClock
	hub    *events.Hub
	events chan events.Event
	store  *LeaseStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		nl:     NewMockNetlinker(),
		info:   new(MockLinkInfoReader),
		dhcp:   &fakeDHCP{ack: testACK(t)},
		clock:  clock.NewMockClock(epoch),
		events: make(chan events.Event, 32),
		store:  NewLeaseStore(t.TempDir()),
	}
	f.hub = events.NewHub(events.WithClock(f.clock))
	t.Cleanup(f.hub.Close)
	_, err := f.hub.Subscribe(events.CategorySystem, func(e events.Event) { f.events <- e })
	require.NoError(t, err)
	f.info.On("LinkInfo", "eth1").Return(&LinkInfo{Speed: 1000, Duplex: "full"}, nil).Maybe()
	f.nl.On("Close").Return().Maybe()
	return f
}

func (f *fixture) driver(t *testing.T, spec config.InterfaceSpec) *LinkDriver {
	t.Helper()
	cfg, err := config.NewInterfaceConfiguration(spec)
	require.NoError(t, err)
	d, err := NewLinkDriver(cfg, f.hub, DriverOptions{
		Netlinker:     f.nl,
		LinkInfo:      f.info,
		NewDHCPClient: func(string) (DHCPClient, error) { return f.dhcp, nil },
		Leases:        f.store,
		Clock:         f.clock,
		Keepalive:     -1,
	})
	require.NoError(t, err)
	return d
}

func (f *fixture) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-f.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func device(state netlink.LinkOperState) *netlink.Device {
	return &netlink.Device{LinkAttrs: netlink.LinkAttrs{
		Name:         "eth1",
		Index:        3,
		HardwareAddr: net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		OperState:    state,
	}}
}

var ethSpec = config.InterfaceSpec{
	Identity:    "eth1",
	Description: "desceth1",
	MAC:         net.HardwareAddr{0x79, 0xe4, 0x23, 0xd4, 0x44, 0x12},
	Mode:        config.ModeDHCP,
	Hostname:    "a.cum.uz",
}

func TestStart_LinkAlreadyUp(t *testing.T) {
	f := newFixture(t)
	down, up := device(netlink.OperDown), device(netlink.OperUp)

	f.nl.On("LinkByName", "eth1").Return(down, nil).Once()
	f.nl.On("LinkSetHardwareAddr", down, ethSpec.MAC).Return(nil).Once()
	f.nl.On("LinkSetAlias", down, "desceth1").Return(nil).Once()
	f.nl.On("LinkSubscribe").Return(nil).Once()
	f.nl.On("LinkSetUp", down).Return(nil).Once()
	f.nl.On("LinkByIndex", 3).Return(up, nil).Once()

	d := f.driver(t, ethSpec)
	require.NoError(t, d.Start())
	assert.Equal(t, 3, d.Index())
	assert.Equal(t, "eth1", d.Name())

	e := f.next(t)
	assert.Equal(t, events.KindLinkStateChanged, e.Kind)
	data := e.Data.(events.LinkStateData)
	assert.True(t, data.Up)
	assert.Equal(t, uint32(1000), data.SpeedMbps)
	assert.Equal(t, "full", data.Duplex)
	f.nl.AssertExpectations(t)
}

func TestStart_WaitsForCarrier(t *testing.T) {
	f := newFixture(t)
	down, up := device(netlink.OperDown), device(netlink.OperUp)

	spec := ethSpec
	spec.MAC = nil
	spec.Description = ""

	f.nl.On("LinkByName", "eth1").Return(down, nil).Once()
	f.nl.On("LinkSubscribe").Return(nil).Once()
	f.nl.On("LinkSetUp", down).Return(nil).Once()
	f.nl.On("LinkByIndex", 3).Return(down, nil).Once()

	d := f.driver(t, spec)
	done := make(chan error, 1)
	go func() { done <- d.Start() }()

	updates := f.nl.LinkUpdates()
	other := device(netlink.OperUp)
	other.Index = 9
	updates <- netlink.LinkUpdate{Link: other}
	updates <- netlink.LinkUpdate{Link: down}
	updates <- netlink.LinkUpdate{Link: up}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
	assert.Equal(t, events.KindLinkStateChanged, f.next(t).Kind)
	f.nl.AssertNotCalled(t, "LinkSetHardwareAddr", mock.Anything, mock.Anything)
	f.nl.AssertNotCalled(t, "LinkSetAlias", mock.Anything, mock.Anything)
}

func TestStart_LowerUpWithUnknownOperState(t *testing.T) {
	link := device(netlink.OperUnknown)
	assert.False(t, linkUp(link))
	link.Flags = net.FlagUp
	link.RawFlags = 1 << 16 // IFF_LOWER_UP
	assert.True(t, linkUp(link))
}

func TestStart_CarrierTimeout(t *testing.T) {
	f := newFixture(t)
	down := device(netlink.OperDown)

	spec := ethSpec
	spec.LinkTimeout = 5 * time.Second

	f.nl.On("LinkByName", "eth1").Return(down, nil).Once()
	f.nl.On("LinkSetHardwareAddr", down, mock.Anything).Return(nil).Once()
	f.nl.On("LinkSetAlias", down, "desceth1").Return(nil).Once()
	f.nl.On("LinkSubscribe").Return(nil).Once()
	f.nl.On("LinkSetUp", down).Return(nil).Once()
	f.nl.On("LinkByIndex", 3).Return(down, nil).Once()

	d := f.driver(t, spec)
	done := make(chan error, 1)
	go func() { done <- d.Start() }()

	require.Eventually(t, func() bool { return f.clock.Waiters() == 1 }, time.Second, time.Millisecond)
	f.clock.Advance(5 * time.Second)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLinkTimeout)
	case <-time.After(time.Second):
		t.Fatal("Start did not time out")
	}
}

func TestStart_Errors(t *testing.T) {
	t.Run("missing link", func(t *testing.T) {
		f := newFixture(t)
		f.nl.On("LinkByName", "eth1").Return(nil, errors.New("Link not found")).Once()
		err := f.driver(t, ethSpec).Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("mac rejected", func(t *testing.T) {
		f := newFixture(t)
		down := device(netlink.OperDown)
		f.nl.On("LinkByName", "eth1").Return(down, nil).Once()
		f.nl.On("LinkSetHardwareAddr", down, mock.Anything).Return(errors.New("operation not permitted")).Once()
		err := f.driver(t, ethSpec).Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MAC")
		f.nl.AssertNotCalled(t, "LinkSetUp", mock.Anything)
	})
}

func expectReady(f *fixture, addr string) netlink.Link {
	up := device(netlink.OperUp)
	f.nl.On("LinkByIndex", 3).Return(up, nil)
	f.nl.On("LinkByName", "eth1").Return(up, nil)
	f.nl.On("AddrList", up, netlink.FAMILY_V4).Return([]netlink.Addr{}, nil)
	f.nl.On("AddrAdd", up, mock.MatchedBy(func(a *netlink.Addr) bool {
		return a.IPNet.String() == addr
	})).Return(nil)
	f.nl.On("RouteReplace", mock.MatchedBy(func(r *netlink.Route) bool {
		return r.Dst == nil && r.LinkIndex == 3
	})).Return(nil)
	f.nl.On("AddrSubscribe").Return(nil)
	return up
}

// started returns a driver that has passed Start.
func started(t *testing.T, f *fixture, spec config.InterfaceSpec) *LinkDriver {
	t.Helper()
	d := f.driver(t, spec)
	d.mu.Lock()
	d.index = 3
	d.mu.Unlock()
	return d
}

func TestWaitForReady_DHCP(t *testing.T) {
	f := newFixture(t)
	expectReady(f, "192.168.88.23/24")

	d := started(t, f, ethSpec)
	require.NoError(t, d.WaitForReady())

	e := f.next(t)
	assert.Equal(t, events.KindIPLeaseAssigned, e.Kind)
	assert.Equal(t, "dhcp", e.Source)
	data := e.Data.(events.LeaseData)
	assert.True(t, data.IP.Equal(net.IPv4(192, 168, 88, 23)))
	assert.True(t, data.Router.Equal(net.IPv4(192, 168, 88, 1)))
	assert.False(t, data.Renewal)

	lease, err := d.Lease()
	require.NoError(t, err)
	assert.Equal(t, "a.cum.uz", lease.Hostname)
	assert.Equal(t, time.Hour, lease.LeaseTime)

	assert.Equal(t, 1, f.dhcp.Requests())
	assert.Equal(t, []string{"a.cum.uz"}, f.dhcp.hostnames)

	_, _, obtained, err := f.store.Load("eth1")
	require.NoError(t, err, "lease persisted")
	assert.True(t, obtained.Equal(epoch))

	require.NoError(t, d.Close())
	assert.True(t, f.dhcp.closed)
}

func TestWaitForReady_DHCPRenewal(t *testing.T) {
	f := newFixture(t)
	expectReady(f, "192.168.88.23/24")

	d := started(t, f, ethSpec)
	require.NoError(t, d.WaitForReady())
	assert.Equal(t, events.KindIPLeaseAssigned, f.next(t).Kind)

	// Renewal at T1 = 30m.
	require.Eventually(t, func() bool { return f.clock.Waiters() >= 1 }, time.Second, time.Millisecond)
	f.clock.Advance(30 * time.Minute)

	e := f.next(t)
	assert.Equal(t, events.KindIPLeaseAssigned, e.Kind)
	assert.True(t, e.Data.(events.LeaseData).Renewal)

	require.NoError(t, d.Close())
	assert.Equal(t, 1, f.dhcp.renews)
}

// armed waits until n goroutines are blocked on the mock clock.
func armed(t *testing.T, f *fixture, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.clock.Waiters() >= n }, time.Second, time.Millisecond)
}

func TestRenewal_RetriesWhileLeaseValid(t *testing.T) {
	f := newFixture(t)
	expectReady(f, "192.168.88.23/24")

	d := started(t, f, ethSpec)
	require.NoError(t, d.WaitForReady())
	assert.Equal(t, events.KindIPLeaseAssigned, f.next(t).Kind)

	f.dhcp.failNext(nil, []error{errors.New("no response from server")})
	armed(t, f, 1)
	f.clock.Advance(30 * time.Minute)

	// Failed at T1, the lease is kept and the retry waits renewRetryDelay.
	require.Eventually(t, func() bool { return f.dhcp.Renews() == 1 }, time.Second, time.Millisecond)
	armed(t, f, 1)
	_, err := d.Lease()
	require.NoError(t, err)

	f.clock.Advance(renewRetryDelay - time.Second)
	assert.Equal(t, 1, f.dhcp.Renews())
	f.clock.Advance(time.Second)

	// Past T1 the next attempt goes out after one second.
	armed(t, f, 1)
	f.clock.Advance(time.Second)

	e := f.next(t)
	assert.Equal(t, events.KindIPLeaseAssigned, e.Kind)
	assert.True(t, e.Data.(events.LeaseData).Renewal)
	assert.Equal(t, 2, f.dhcp.Renews())
	assert.Equal(t, 1, f.dhcp.Requests())
	f.nl.AssertNotCalled(t, "AddrDel", mock.Anything, mock.Anything)

	require.NoError(t, d.Close())
}

func TestRenewal_ExpiryReleasesAndRediscovers(t *testing.T) {
	f := newFixture(t)
	up := expectReady(f, "192.168.88.23/24")
	f.nl.On("AddrDel", up, mock.MatchedBy(func(a *netlink.Addr) bool {
		return a.IPNet.String() == "192.168.88.23/24"
	})).Return(nil).Once()

	// T1 equal to the lease time: the first renewal happens at expiry.
	f.dhcp.ack = testACK(t,
		dhcpv4.WithLeaseTime(60),
		dhcpv4.WithOption(dhcpv4.OptRenewTimeValue(60*time.Second)),
	)

	d := started(t, f, ethSpec)
	require.NoError(t, d.WaitForReady())
	assert.Equal(t, events.KindIPLeaseAssigned, f.next(t).Kind)
	assert.Equal(t, 1, f.dhcp.Requests())

	offline := errors.New("no response from server")
	f.dhcp.failNext([]error{offline, offline}, []error{offline})
	armed(t, f, 1)
	f.clock.Advance(60 * time.Second)

	e := f.next(t)
	assert.Equal(t, events.KindIPLeaseReleased, e.Kind)
	assert.True(t, e.Data.(events.LeaseData).IP.Equal(net.IPv4(192, 168, 88, 23)))
	_, err := d.Lease()
	assert.ErrorIs(t, err, ErrNoLease)
	_, _, _, err = f.store.Load("eth1")
	assert.True(t, os.IsNotExist(err), "lease file removed")
	f.nl.AssertCalled(t, "AddrDel", up, mock.Anything)

	// First rediscovery attempt fails at once, then backs off 2s.
	require.Eventually(t, func() bool { return f.dhcp.Requests() == 2 }, time.Second, time.Millisecond)
	armed(t, f, 1)
	f.clock.Advance(2 * time.Second)

	// The second failure doubles the backoff to 4s.
	require.Eventually(t, func() bool { return f.dhcp.Requests() == 3 }, time.Second, time.Millisecond)
	armed(t, f, 1)
	f.clock.Advance(2 * time.Second)
	assert.Equal(t, 3, f.dhcp.Requests())
	f.clock.Advance(2 * time.Second)

	e = f.next(t)
	assert.Equal(t, events.KindIPLeaseAssigned, e.Kind)
	assert.Equal(t, "dhcp", e.Source)
	assert.False(t, e.Data.(events.LeaseData).Renewal, "rediscovered lease is a fresh acquisition")
	assert.Equal(t, 4, f.dhcp.Requests())

	lease, err := d.Lease()
	require.NoError(t, err)
	assert.True(t, lease.IPAddress.Equal(net.IPv4(192, 168, 88, 23)))
	_, _, _, err = f.store.Load("eth1")
	assert.NoError(t, err, "new lease persisted")

	require.NoError(t, d.Close())
}

func TestWaitForReady_DHCPFailure(t *testing.T) {
	f := newFixture(t)
	up := device(netlink.OperUp)
	f.nl.On("LinkByIndex", 3).Return(up, nil)
	f.dhcp.err = errors.New("context deadline exceeded")

	d := started(t, f, ethSpec)
	err := d.WaitForReady()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DHCP handshake failed")
	_, err = d.Lease()
	assert.ErrorIs(t, err, ErrNoLease)
	f.nl.AssertNotCalled(t, "AddrAdd", mock.Anything, mock.Anything)
}

func TestWaitForReady_ReusesSavedLease(t *testing.T) {
	f := newFixture(t)
	expectReady(f, "192.168.88.23/24")
	require.NoError(t, f.store.Save("eth1", testACK(t), nil, epoch.Add(-10*time.Minute)))

	d := started(t, f, ethSpec)
	require.NoError(t, d.WaitForReady())
	assert.Equal(t, events.KindIPLeaseAssigned, f.next(t).Kind)
	assert.Equal(t, 0, f.dhcp.Requests())
	require.NoError(t, d.Close())
}

func TestWaitForReady_ExpiredSavedLease(t *testing.T) {
	f := newFixture(t)
	expectReady(f, "192.168.88.23/24")
	require.NoError(t, f.store.Save("eth1", testACK(t), nil, epoch.Add(-2*time.Hour)))

	d := started(t, f, ethSpec)
	require.NoError(t, d.WaitForReady())
	assert.Equal(t, 1, f.dhcp.Requests())
	require.NoError(t, d.Close())
}

func TestWaitForReady_Static(t *testing.T) {
	f := newFixture(t)
	expectReady(f, "10.0.0.2/24")

	spec := ethSpec
	spec.Mode = config.ModeStatic
	spec.Address = &net.IPNet{IP: net.IPv4(10, 0, 0, 2).To4(), Mask: net.CIDRMask(24, 32)}
	spec.Gateway = net.IPv4(10, 0, 0, 1)

	d := started(t, f, spec)
	require.NoError(t, d.WaitForReady())

	e := f.next(t)
	assert.Equal(t, events.KindIPLeaseAssigned, e.Kind)
	assert.Equal(t, "static", e.Source)

	lease, err := d.Lease()
	require.NoError(t, err)
	assert.True(t, lease.Static)
	assert.True(t, lease.Router.Equal(net.IPv4(10, 0, 0, 1)))
	assert.Equal(t, 0, f.dhcp.Requests())
	require.NoError(t, d.Close())
}

func TestWatcher_AddressEvents(t *testing.T) {
	f := newFixture(t)
	expectReady(f, "192.168.88.23/24")

	d := started(t, f, ethSpec)
	require.NoError(t, d.WaitForReady())
	assert.Equal(t, events.KindIPLeaseAssigned, f.next(t).Kind)

	updates := f.nl.AddrUpdates()
	ipnet := func(s string) net.IPNet {
		ip, n, err := net.ParseCIDR(s)
		require.NoError(t, err)
		n.IP = ip
		return *n
	}

	updates <- netlink.AddrUpdate{LinkIndex: 7, NewAddr: true, LinkAddress: ipnet("172.16.0.9/16")}
	updates <- netlink.AddrUpdate{LinkIndex: 3, NewAddr: true, LinkAddress: ipnet("192.168.88.50/24")}
	assert.Equal(t, events.KindIPLeaseAssignedSecondary, f.next(t).Kind)

	updates <- netlink.AddrUpdate{LinkIndex: 3, NewAddr: true, LinkAddress: ipnet("fe80::1/64")}
	updates <- netlink.AddrUpdate{LinkIndex: 3, NewAddr: true, LinkAddress: ipnet("2001:db8::5/64")}
	assert.Equal(t, events.KindIPv6LeaseAssigned, f.next(t).Kind)

	updates <- netlink.AddrUpdate{LinkIndex: 3, NewAddr: false, LinkAddress: ipnet("192.168.88.23/24")}
	assert.Equal(t, events.KindIPLeaseReleased, f.next(t).Kind)

	require.NoError(t, d.Close())
}

func TestKeepalive(t *testing.T) {
	f := newFixture(t)
	up := expectReady(f, "10.0.0.2/24")

	spec := ethSpec
	spec.Mode = config.ModeStatic
	spec.Address = &net.IPNet{IP: net.IPv4(10, 0, 0, 2).To4(), Mask: net.CIDRMask(24, 32)}

	cfg, err := config.NewInterfaceConfiguration(spec)
	require.NoError(t, err)
	d, err := NewLinkDriver(cfg, f.hub, DriverOptions{
		Netlinker: f.nl,
		LinkInfo:  f.info,
		Leases:    f.store,
		Clock:     f.clock,
		Keepalive: 2 * time.Second,
	})
	require.NoError(t, err)
	d.index = 3

	require.NoError(t, d.WaitForReady())
	assert.Equal(t, "static", f.next(t).Source)

	// From now on the address is present on the link.
	f.nl.ExpectedCalls = removeCall(f.nl.ExpectedCalls, "AddrList")
	f.nl.On("AddrList", up, netlink.FAMILY_V4).Return([]netlink.Addr{
		{IPNet: &net.IPNet{IP: net.IPv4(10, 0, 0, 2), Mask: net.CIDRMask(24, 32)}},
	}, nil)

	require.Eventually(t, func() bool { return f.clock.Waiters() >= 1 }, time.Second, time.Millisecond)
	f.clock.Advance(2 * time.Second)

	e := f.next(t)
	assert.Equal(t, events.KindIPLeaseAssigned, e.Kind)
	assert.Equal(t, "keepalive", e.Source)
	require.NoError(t, d.Close())
}

func removeCall(calls []*mock.Call, method string) []*mock.Call {
	out := calls[:0]
	for _, c := range calls {
		if c.Method != method {
			out = append(out, c)
		}
	}
	return out
}
