// Package network implements the Linux link driver via netlink.
//
// # Overview
//
// [LinkDriver] brings one interface up and gives it an IPv4 address, either
// from a DHCPv4 server or from static configuration. Progress is published
// on the event bus as link and ip lifecycle events.
//
// # Key Components
//
//   - [LinkDriver]: Start and WaitForReady blocking primitives
//   - [Netlinker]: netlink operations, bound to a network namespace
//   - [LeaseStore]: DHCP lease persistence across restarts
//   - [LinkInfoReader]: link speed and duplex via ethtool
//
// # Namespaces
//
// When the interface configuration names a namespace, the netlink handle,
// the DHCP socket and the ethtool socket are all opened inside it.
// [InNamespace] runs other socket-creating code there, such as the ICMP
// prober.
//
// # Example
//
//	drv, err := network.NewLinkDriver(cfg, bus, network.DriverOptions{})
//	if err != nil {
//	    return err
//	}
//	if err := drv.Start(); err != nil {
//	    return err
//	}
//	err = drv.WaitForReady()
package network
