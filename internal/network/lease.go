package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// SavedLease represents a serialized DHCP lease
type SavedLease struct {
	OfferPacket []byte    `json:"offer_packet,omitempty"`
	ACKPacket   []byte    `json:"ack_packet"`
	ObtainedAt  time.Time `json:"obtained_at"`
}

// LeaseStore persists DHCP leases as JSON files, one per interface.
type LeaseStore struct {
	dir string
}

// NewLeaseStore stores leases under dir.
func NewLeaseStore(dir string) *LeaseStore {
	return &LeaseStore{dir: dir}
}

// Path returns the lease file for iface.
func (s *LeaseStore) Path(iface string) string {
	return filepath.Join(s.dir, fmt.Sprintf("dhcp_client_%s.json", iface))
}

// Save writes the lease for iface.
func (s *LeaseStore) Save(iface string, ack, offer *dhcpv4.DHCPv4, obtained time.Time) error {
	if ack == nil {
		return errors.New("lease has no ACK")
	}
	sl := SavedLease{
		ACKPacket:  ack.ToBytes(),
		ObtainedAt: obtained,
	}
	if offer != nil {
		sl.OfferPacket = offer.ToBytes()
	}

	data, err := json.Marshal(sl)
	if err != nil {
		return fmt.Errorf("failed to marshal lease: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create lease dir: %w", err)
	}

	// Write then rename so a crash never leaves a truncated lease.
	path := s.Path(iface)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to save lease: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads the lease for iface. The packets are parsed; a corrupt file is
// an error.
func (s *LeaseStore) Load(iface string) (ack, offer *dhcpv4.DHCPv4, obtained time.Time, err error) {
	data, err := os.ReadFile(s.Path(iface))
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	var sl SavedLease
	if err := json.Unmarshal(data, &sl); err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("corrupt lease file: %w", err)
	}
	ack, err = dhcpv4.FromBytes(sl.ACKPacket)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("corrupt lease ACK: %w", err)
	}
	if len(sl.OfferPacket) > 0 {
		offer, _ = dhcpv4.FromBytes(sl.OfferPacket)
	}
	return ack, offer, sl.ObtainedAt, nil
}

// Remove deletes the lease for iface. A missing file is not an error.
func (s *LeaseStore) Remove(iface string) error {
	err := os.Remove(s.Path(iface))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// leaseInfoFromACK extracts the address information of an ACK.
func leaseInfoFromACK(iface, hostname string, ack *dhcpv4.DHCPv4, obtained time.Time) LeaseInfo {
	leaseTime := ack.IPAddressLeaseTime(0)
	info := LeaseInfo{
		Interface:  iface,
		IPAddress:  ack.YourIPAddr,
		SubnetMask: ack.SubnetMask(),
		DNSServers: ack.DNS(),
		ServerID:   ack.ServerIdentifier(),
		LeaseTime:  leaseTime,
		ObtainedAt: obtained,
		Hostname:   hostname,
	}
	if leaseTime > 0 {
		info.ExpiresAt = obtained.Add(leaseTime)
	}
	if routers := ack.Router(); len(routers) > 0 {
		info.Router = routers[0]
	}
	if info.SubnetMask == nil {
		info.SubnetMask = info.IPAddress.DefaultMask()
	}
	return info
}

// renewalDelay returns how long to wait before renewing a lease obtained
// elapsed ago: T1 minus elapsed, with T1 defaulting to half the lease time,
// or an hour for leases without a time.
func renewalDelay(ack *dhcpv4.DHCPv4, elapsed time.Duration) time.Duration {
	leaseTime := ack.IPAddressLeaseTime(0)
	t1 := ack.IPAddressRenewalTime(0)
	if t1 == 0 {
		if leaseTime > 0 {
			t1 = leaseTime / 2
		} else {
			t1 = time.Hour
		}
	}
	d := t1 - elapsed
	if d <= 0 {
		// Past T1, renew immediately
		d = time.Second
	}
	return d
}

// leaseValid reports whether a lease obtained at obtained is still usable at now.
func leaseValid(ack *dhcpv4.DHCPv4, obtained, now time.Time) bool {
	leaseTime := ack.IPAddressLeaseTime(0)
	if leaseTime <= 0 || ack.YourIPAddr == nil || ack.YourIPAddr.Equal(net.IPv4zero) {
		return false
	}
	return now.Sub(obtained) < leaseTime
}
