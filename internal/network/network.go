package network

import (
	"errors"
	"net"
	"time"

	"github.com/vishvananda/netlink"
)

// Driver is the link driver the bring-up controller runs.
type Driver interface {
	// Start applies link settings, sets the link up and blocks until it has
	// carrier.
	Start() error
	// WaitForReady blocks until the link holds an IPv4 address.
	WaitForReady() error
	// Lease returns the current address information.
	Lease() (LeaseInfo, error)
	Index() int
	Name() string
}

var (
	ErrNoLease             = errors.New("no lease held")
	ErrLinkTimeout         = errors.New("timed out waiting for carrier")
	ErrUnsupportedPlatform = errors.New("link driver requires linux")
)

// LeaseInfo represents the address held by the interface.
type LeaseInfo struct {
	Interface  string
	IPAddress  net.IP
	SubnetMask net.IPMask
	Router     net.IP
	DNSServers []net.IP
	ServerID   net.IP
	LeaseTime  time.Duration
	ObtainedAt time.Time
	ExpiresAt  time.Time
	Hostname   string // Sent as DHCP option 12
	Static     bool
}

// IPNet returns the address with its mask.
func (l LeaseInfo) IPNet() *net.IPNet {
	if l.IPAddress == nil {
		return nil
	}
	return &net.IPNet{IP: l.IPAddress, Mask: l.SubnetMask}
}

// LinkInfo contains link speed and settings.
type LinkInfo struct {
	Speed   uint32 // Mb/s
	Duplex  string // "full", "half", "unknown"
	Autoneg bool
}

// LinkInfoReader reads physical link settings.
type LinkInfoReader interface {
	LinkInfo(iface string) (*LinkInfo, error)
}

// Netlinker is an interface that abstracts netlink interactions.
// This allows for mocking netlink calls during unit testing.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	LinkSetHardwareAddr(link netlink.Link, hw net.HardwareAddr) error
	LinkSetAlias(link netlink.Link, alias string) error
	LinkSetUp(link netlink.Link) error

	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error

	RouteReplace(route *netlink.Route) error

	// Subscriptions stop when done is closed.
	LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error
	AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error

	Close()
}
