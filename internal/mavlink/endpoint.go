package mavlink

import (
	"fmt"
	"net/netip"
)

// TransportType selects the socket kind used to reach an endpoint.
type TransportType int

const (
	TransportUDP TransportType = iota + 1
	TransportTCP
)

func (t TransportType) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Endpoint identifies one remote MAVLink participant. It is a value object:
// two endpoints are equal iff all fields match.
type Endpoint struct {
	Transport   TransportType
	Addr        netip.AddrPort
	SystemID    uint8
	ComponentID uint8
}

// UnspecifiedUDP matches any datagram sender. Used for passive listening.
func UnspecifiedUDP() Endpoint {
	return Endpoint{Transport: TransportUDP}
}

// BroadcastUDP addresses outgoing broadcast heartbeats on the given port.
func BroadcastUDP(port uint16) Endpoint {
	return Endpoint{
		Transport: TransportUDP,
		Addr:      netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), port),
	}
}

// IsUnspecified reports whether the endpoint carries no concrete address.
func (e Endpoint) IsUnspecified() bool {
	return !e.Addr.IsValid()
}

// IsBroadcast reports whether the endpoint addresses the local broadcast
// domain.
func (e Endpoint) IsBroadcast() bool {
	return e.Addr.IsValid() && e.Addr.Addr() == netip.AddrFrom4([4]byte{255, 255, 255, 255})
}

// Matches reports whether a frame from sender belongs to this endpoint. An
// unspecified endpoint matches any sender; a zero system or component id
// acts as a wildcard for that field.
func (e Endpoint) Matches(sender Endpoint) bool {
	if e.Transport != sender.Transport {
		return false
	}
	if e.IsUnspecified() {
		return true
	}
	if e.Addr != sender.Addr {
		return false
	}
	if e.SystemID != 0 && e.SystemID != sender.SystemID {
		return false
	}
	if e.ComponentID != 0 && e.ComponentID != sender.ComponentID {
		return false
	}

	return true
}

func (e Endpoint) String() string {
	if e.IsUnspecified() {
		return fmt.Sprintf("%s://*", e.Transport)
	}

	return fmt.Sprintf("%s://%s/%d/%d", e.Transport, e.Addr, e.SystemID, e.ComponentID)
}
