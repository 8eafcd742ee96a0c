package config

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInterfaceConfiguration_RoundTrip(t *testing.T) {
	mac := net.HardwareAddr{0x79, 0xe4, 0x23, 0xd4, 0x44, 0x12}
	_, addr, _ := net.ParseCIDR("10.0.0.0/24")
	addr.IP = net.ParseIP("10.0.0.2").To4()

	tests := []struct {
		name string
		spec InterfaceSpec
	}{
		{
			name: "dhcp with hostname and mac",
			spec: InterfaceSpec{
				Identity:    "eth1",
				Description: "desceth1",
				MAC:         mac,
				Mode:        ModeDHCP,
				Hostname:    "a.cum.uz",
				LinkTimeout: 10 * time.Second,
			},
		},
		{
			name: "dhcp without optional fields",
			spec: InterfaceSpec{Identity: "eth0", Mode: ModeDHCP, LinkTimeout: DefaultLinkTimeout},
		},
		{
			name: "static",
			spec: InterfaceSpec{
				Identity:    "lan0",
				Description: "uplink",
				Mode:        ModeStatic,
				Address:     addr,
				Gateway:     net.ParseIP("10.0.0.1"),
				Namespace:   "edge",
				LinkTimeout: time.Second,
				RouteTable:  100,
			},
		},
		{
			name: "bounds exactly at limit",
			spec: InterfaceSpec{
				Identity:    strings.Repeat("i", MaxIdentityLen),
				Description: strings.Repeat("d", MaxDescriptionLen),
				Hostname:    strings.Repeat("h", MaxHostnameLen),
				Mode:        ModeDHCP,
				LinkTimeout: DefaultLinkTimeout,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewInterfaceConfiguration(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.spec, cfg.Spec())
			assert.Equal(t, tt.spec.Identity, cfg.Identity())
			assert.Equal(t, tt.spec.Description, cfg.Description())
			assert.Equal(t, tt.spec.Hostname, cfg.Hostname())
			assert.Equal(t, tt.spec.Mode, cfg.Mode())
			assert.Equal(t, tt.spec.MAC != nil, cfg.HasMACOverride())
		})
	}
}

func TestNewInterfaceConfiguration_DefaultLinkTimeout(t *testing.T) {
	cfg, err := NewInterfaceConfiguration(InterfaceSpec{Identity: "eth1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultLinkTimeout, cfg.LinkTimeout())
}

func TestNewInterfaceConfiguration_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		spec  InterfaceSpec
		want  error
		field string
	}{
		{"empty identity", InterfaceSpec{}, ErrIdentityEmpty, "identity"},
		{"long identity", InterfaceSpec{Identity: strings.Repeat("x", MaxIdentityLen+1)}, ErrIdentityTooLong, "identity"},
		{"long description", InterfaceSpec{Identity: "eth1", Description: strings.Repeat("x", MaxDescriptionLen+1)}, ErrDescriptionTooLong, "description"},
		{"long hostname", InterfaceSpec{Identity: "eth1", Hostname: strings.Repeat("x", MaxHostnameLen+1)}, ErrHostnameTooLong, "hostname"},
		{"short mac", InterfaceSpec{Identity: "eth1", MAC: net.HardwareAddr{1, 2, 3}}, ErrInvalidMAC, "mac"},
		{"static without address", InterfaceSpec{Identity: "eth1", Mode: ModeStatic}, ErrStaticAddressRequired, "address"},
		{"unknown mode", InterfaceSpec{Identity: "eth1", Mode: AddressingMode(7)}, ErrInvalidMode, "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewInterfaceConfiguration(tt.spec)
			assert.Nil(t, cfg, "no partial object on error")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestInterfaceConfiguration_Immutable(t *testing.T) {
	mac := net.HardwareAddr{0x79, 0xe4, 0x23, 0xd4, 0x44, 0x12}
	cfg, err := NewInterfaceConfiguration(InterfaceSpec{Identity: "eth1", MAC: mac})
	require.NoError(t, err)

	mac[0] = 0xff
	assert.Equal(t, byte(0x79), cfg.MAC()[0], "input mutation must not leak in")

	out := cfg.MAC()
	out[1] = 0xff
	assert.Equal(t, byte(0xe4), cfg.MAC()[1], "getter mutation must not leak in")
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]AddressingMode{
		"":            ModeDHCP,
		"dhcp":        ModeDHCP,
		"Client-DHCP": ModeDHCP,
		"static":      ModeStatic,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("slaac")
	assert.ErrorIs(t, err, ErrInvalidMode)
}
