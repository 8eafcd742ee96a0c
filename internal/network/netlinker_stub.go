//go:build !linux
// +build !linux

package network

import (
	"net"

	"github.com/vishvananda/netlink"
)

// RealNetlinker is a stub implementation of Netlinker.
type RealNetlinker struct{}

// NewRealNetlinker always fails on this platform.
func NewRealNetlinker(nsName string) (*RealNetlinker, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *RealNetlinker) LinkSetHardwareAddr(link netlink.Link, hw net.HardwareAddr) error {
	return ErrUnsupportedPlatform
}

func (r *RealNetlinker) LinkSetAlias(link netlink.Link, alias string) error {
	return ErrUnsupportedPlatform
}

func (r *RealNetlinker) LinkSetUp(link netlink.Link) error {
	return ErrUnsupportedPlatform
}

func (r *RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *RealNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return ErrUnsupportedPlatform
}

func (r *RealNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return ErrUnsupportedPlatform
}

func (r *RealNetlinker) RouteReplace(route *netlink.Route) error {
	return ErrUnsupportedPlatform
}

func (r *RealNetlinker) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	return ErrUnsupportedPlatform
}

func (r *RealNetlinker) AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error {
	return ErrUnsupportedPlatform
}

func (r *RealNetlinker) Close() {}
