package network

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testACK(t *testing.T, mods ...dhcpv4.Modifier) *dhcpv4.DHCPv4 {
	t.Helper()
	base := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
		dhcpv4.WithYourIP(net.IPv4(192, 168, 88, 23)),
		dhcpv4.WithNetmask(net.CIDRMask(24, 32)),
		dhcpv4.WithRouter(net.IPv4(192, 168, 88, 1)),
		dhcpv4.WithDNS(net.IPv4(192, 168, 88, 1), net.IPv4(1, 1, 1, 1)),
		dhcpv4.WithLeaseTime(3600),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(192, 168, 88, 1))),
	}
	ack, err := dhcpv4.New(append(base, mods...)...)
	require.NoError(t, err)
	return ack
}

func TestLeaseStore_RoundTrip(t *testing.T) {
	store := NewLeaseStore(t.TempDir())
	ack := testACK(t)
	obtained := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save("eth1", ack, nil, obtained))

	gotACK, offer, gotObtained, err := store.Load("eth1")
	require.NoError(t, err)
	assert.Nil(t, offer)
	assert.True(t, gotObtained.Equal(obtained))
	assert.True(t, gotACK.YourIPAddr.Equal(net.IPv4(192, 168, 88, 23)))
	assert.Equal(t, time.Hour, gotACK.IPAddressLeaseTime(0))

	require.NoError(t, store.Remove("eth1"))
	_, _, _, err = store.Load("eth1")
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, store.Remove("eth1"), "removing a missing lease is fine")
}

func TestLeaseStore_Corrupt(t *testing.T) {
	store := NewLeaseStore(t.TempDir())
	require.NoError(t, os.WriteFile(store.Path("eth1"), []byte("{not json"), 0o644))

	_, _, _, err := store.Load("eth1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestLeaseStore_SaveRequiresACK(t *testing.T) {
	store := NewLeaseStore(t.TempDir())
	assert.Error(t, store.Save("eth1", nil, nil, time.Now()))
}

func TestLeaseInfoFromACK(t *testing.T) {
	obtained := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	info := leaseInfoFromACK("eth1", "a.cum.uz", testACK(t), obtained)

	assert.Equal(t, "eth1", info.Interface)
	assert.Equal(t, "a.cum.uz", info.Hostname)
	assert.True(t, info.IPAddress.Equal(net.IPv4(192, 168, 88, 23)))
	assert.Equal(t, net.CIDRMask(24, 32), info.SubnetMask)
	assert.True(t, info.Router.Equal(net.IPv4(192, 168, 88, 1)))
	assert.Len(t, info.DNSServers, 2)
	assert.True(t, info.ServerID.Equal(net.IPv4(192, 168, 88, 1)))
	assert.Equal(t, time.Hour, info.LeaseTime)
	assert.Equal(t, obtained.Add(time.Hour), info.ExpiresAt)
	assert.Equal(t, "192.168.88.23/24", info.IPNet().String())
	assert.False(t, info.Static)
}

func TestRenewalDelay(t *testing.T) {
	ack := testACK(t)
	assert.Equal(t, 30*time.Minute, renewalDelay(ack, 0), "T1 defaults to half the lease")
	assert.Equal(t, 20*time.Minute, renewalDelay(ack, 10*time.Minute))
	assert.Equal(t, time.Second, renewalDelay(ack, 40*time.Minute), "past T1 renews immediately")

	withT1 := testACK(t, dhcpv4.WithOption(dhcpv4.OptRenewTimeValue(10*time.Minute)))
	assert.Equal(t, 10*time.Minute, renewalDelay(withT1, 0))
}

func TestLeaseValid(t *testing.T) {
	ack := testACK(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, leaseValid(ack, now.Add(-30*time.Minute), now))
	assert.False(t, leaseValid(ack, now.Add(-2*time.Hour), now))

	noTime, err := dhcpv4.New(dhcpv4.WithYourIP(net.IPv4(10, 0, 0, 2)))
	require.NoError(t, err)
	assert.False(t, leaseValid(noTime, now, now))
}
