//go:build linux
// +build linux

package network

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"grimm.is/linkup/internal/logging"
)

// RealNetlinker is a concrete implementation of Netlinker bound to one
// network namespace.
type RealNetlinker struct {
	handle *netlink.Handle
	ns     *netns.NsHandle
}

// NewRealNetlinker opens a netlink handle in the named namespace, or in the
// current one when nsName is empty.
func NewRealNetlinker(nsName string) (*RealNetlinker, error) {
	if nsName == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, fmt.Errorf("failed to open netlink handle: %w", err)
		}
		return &RealNetlinker{handle: h}, nil
	}

	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return nil, fmt.Errorf("failed to open netns %s: %w", nsName, err)
	}
	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("failed to open netlink handle in %s: %w", nsName, err)
	}
	return &RealNetlinker{handle: h, ns: &ns}, nil
}

// LinkByName retrieves a link by name.
func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return r.handle.LinkByName(name)
}

// LinkByIndex retrieves a link by index.
func (r *RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return r.handle.LinkByIndex(index)
}

// LinkSetHardwareAddr sets the link MAC address.
func (r *RealNetlinker) LinkSetHardwareAddr(link netlink.Link, hw net.HardwareAddr) error {
	return r.handle.LinkSetHardwareAddr(link, hw)
}

// LinkSetAlias sets the link alias (ifalias).
func (r *RealNetlinker) LinkSetAlias(link netlink.Link, alias string) error {
	return r.handle.LinkSetAlias(link, alias)
}

// LinkSetUp sets the link up.
func (r *RealNetlinker) LinkSetUp(link netlink.Link) error {
	return r.handle.LinkSetUp(link)
}

// AddrList retrieves a list of addresses for a link.
func (r *RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return r.handle.AddrList(link, family)
}

// AddrAdd adds an address to a link.
func (r *RealNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return r.handle.AddrAdd(link, addr)
}

// AddrDel deletes an address from a link.
func (r *RealNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return r.handle.AddrDel(link, addr)
}

// RouteReplace adds or replaces a route.
func (r *RealNetlinker) RouteReplace(route *netlink.Route) error {
	return r.handle.RouteReplace(route)
}

// LinkSubscribe streams link updates from the handle's namespace.
func (r *RealNetlinker) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	return netlink.LinkSubscribeWithOptions(ch, done, netlink.LinkSubscribeOptions{
		Namespace:     r.ns,
		ErrorCallback: subscribeError("link"),
	})
}

// AddrSubscribe streams address updates from the handle's namespace.
func (r *RealNetlinker) AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error {
	return netlink.AddrSubscribeWithOptions(ch, done, netlink.AddrSubscribeOptions{
		Namespace:     r.ns,
		ErrorCallback: subscribeError("addr"),
	})
}

// Close releases the handle and the namespace descriptor.
func (r *RealNetlinker) Close() {
	r.handle.Close()
	if r.ns != nil {
		r.ns.Close()
	}
}

func subscribeError(kind string) func(error) {
	return func(err error) {
		logging.WithComponent("netlink").Warn("Subscription error", "kind", kind, "error", err)
	}
}
