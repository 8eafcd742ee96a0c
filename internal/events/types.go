// Package events provides the typed pub/sub bus that carries interface
// lifecycle events from the link driver and DHCP client to the supervisor.
package events

import (
	"net"
	"time"
)

// Category groups event kinds for subscription. Subscribers to
// CategorySystem receive every event, like the platform's generic loop.
type Category string

const (
	CategorySystem Category = "system"
	CategoryLink   Category = "link"
	CategoryIP     Category = "ip"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindSystemGeneric Kind = "system.generic"

	KindLinkStateChanged Kind = "link.state"

	// KindIPLeaseAssigned is published when an address is acquired, renewed
	// or re-added. Keepalive confirmations of a held address reuse it with
	// Source "keepalive".
	KindIPLeaseAssigned          Kind = "ip.lease.assigned"
	KindIPLeaseReleased          Kind = "ip.lease.released"
	KindIPLeaseAssignedSecondary Kind = "ip.lease.assigned_secondary" // Extra IPv4 address on the link
	KindIPv6LeaseAssigned        Kind = "ip.v6.assigned"
)

// Category returns the category a kind is delivered under.
func (k Kind) Category() Category {
	switch k {
	case KindLinkStateChanged:
		return CategoryLink
	case KindIPLeaseAssigned, KindIPLeaseReleased, KindIPLeaseAssignedSecondary, KindIPv6LeaseAssigned:
		return CategoryIP
	default:
		return CategorySystem
	}
}

// Event is the core message passed through the event bus.
// Data is only valid for the extent of the handler call.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // Component that emitted: "link", "dhcp", "addr", ...
	Data      any       `json:"data,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Type-Specific Payloads
// ──────────────────────────────────────────────────────────────────────────────

// SystemData is the payload for KindSystemGeneric.
type SystemData struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// LinkStateData is the payload for KindLinkStateChanged.
type LinkStateData struct {
	Interface string `json:"interface"`
	Index     int    `json:"index"`
	Up        bool   `json:"up"`
	OperState string `json:"oper_state"`
	SpeedMbps uint32 `json:"speed_mbps,omitempty"`
	Duplex    string `json:"duplex,omitempty"`
}

// LeaseData is the payload for the KindIP* events.
type LeaseData struct {
	Interface string        `json:"interface"`
	IP        net.IP        `json:"ip"`
	Mask      net.IPMask    `json:"mask,omitempty"`
	Router    net.IP        `json:"router,omitempty"`
	DNS       []net.IP      `json:"dns,omitempty"`
	LeaseTime time.Duration `json:"lease_time,omitempty"`
	Renewal   bool          `json:"renewal,omitempty"` // True when the lease was renewed rather than newly bound
}
