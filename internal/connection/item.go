package connection

import (
	"fmt"
	"net"
	"strconv"

	"mavgo/internal/events"
	"mavgo/internal/mavlink"
)

// ItemKind tags the connection-item variants the registry can dispatch on.
type ItemKind int

const (
	KindMock ItemKind = iota + 1
	KindLegacySimulation
	KindMavlinkDrone
	KindMavlinkCamera
)

func (k ItemKind) String() string {
	switch k {
	case KindMock:
		return "mock"
	case KindLegacySimulation:
		return "legacy-simulation"
	case KindMavlinkDrone:
		return "mavlink-drone"
	case KindMavlinkCamera:
		return "mavlink-camera"
	default:
		return "unknown"
	}
}

// ConnectionItem describes how to reach a device, independent of whether it
// is currently reachable. known means persisted in configuration; online
// means currently observed heartbeating on the network. Items are identified
// by their addressing fields, not by pointer identity.
type ConnectionItem interface {
	Kind() ItemKind
	Name() string
	// DescriptionID is the hardware-description id, empty until classified.
	DescriptionID() string
	IsOnline() bool
	IsKnown() bool
	SetOnline(bool)
	SetKnown(bool)
	// SameConnection reports whether other addresses the same device.
	SameConnection(other ConnectionItem) bool
	// Bind merges a known item's user-editable fields into this item.
	// Known-item values win over discovered ones.
	Bind(known ConnectionItem)
	Info() events.ItemInfo
}

// MockConnectionItem is addressable by name only; used by tests and the
// mock connector.
type MockConnectionItem struct {
	ItemName string
	Online   bool
	Known    bool
}

func (i *MockConnectionItem) Kind() ItemKind        { return KindMock }
func (i *MockConnectionItem) Name() string          { return i.ItemName }
func (i *MockConnectionItem) DescriptionID() string { return "" }
func (i *MockConnectionItem) IsOnline() bool        { return i.Online }
func (i *MockConnectionItem) IsKnown() bool         { return i.Known }
func (i *MockConnectionItem) SetOnline(v bool)      { i.Online = v }
func (i *MockConnectionItem) SetKnown(v bool)       { i.Known = v }

func (i *MockConnectionItem) SameConnection(other ConnectionItem) bool {
	o, ok := other.(*MockConnectionItem)

	return ok && o.ItemName == i.ItemName
}

func (i *MockConnectionItem) Bind(known ConnectionItem) {
	if known.IsKnown() {
		i.Known = true
	}
}

func (i *MockConnectionItem) Info() events.ItemInfo {
	return events.ItemInfo{Kind: i.Kind().String(), Name: i.ItemName, Online: i.Online, Known: i.Known}
}

// LegacySimulationConnectionItem stands in for the local airplane simulator.
// It carries no protocol-level addressing.
type LegacySimulationConnectionItem struct {
	ItemName string
	Online   bool
	Known    bool
}

func (i *LegacySimulationConnectionItem) Kind() ItemKind        { return KindLegacySimulation }
func (i *LegacySimulationConnectionItem) Name() string          { return i.ItemName }
func (i *LegacySimulationConnectionItem) DescriptionID() string { return "" }
func (i *LegacySimulationConnectionItem) IsOnline() bool        { return i.Online }
func (i *LegacySimulationConnectionItem) IsKnown() bool         { return i.Known }
func (i *LegacySimulationConnectionItem) SetOnline(v bool)      { i.Online = v }
func (i *LegacySimulationConnectionItem) SetKnown(v bool)       { i.Known = v }

func (i *LegacySimulationConnectionItem) SameConnection(other ConnectionItem) bool {
	o, ok := other.(*LegacySimulationConnectionItem)

	return ok && o.ItemName == i.ItemName
}

func (i *LegacySimulationConnectionItem) Bind(known ConnectionItem) {
	if known.IsKnown() {
		i.Known = true
	}
}

func (i *LegacySimulationConnectionItem) Info() events.ItemInfo {
	return events.ItemInfo{Kind: i.Kind().String(), Name: i.ItemName, Online: i.Online, Known: i.Known}
}

// MavlinkDroneConnectionItem addresses one autopilot. Identity is the tuple
// (host, port, transport, system id).
type MavlinkDroneConnectionItem struct {
	ItemName   string
	PlatformID string
	Transport  mavlink.TransportType
	Host       string
	Port       uint16
	SystemID   uint8
	Online     bool
	Known      bool
}

func (i *MavlinkDroneConnectionItem) Kind() ItemKind        { return KindMavlinkDrone }
func (i *MavlinkDroneConnectionItem) Name() string          { return i.ItemName }
func (i *MavlinkDroneConnectionItem) DescriptionID() string { return i.PlatformID }
func (i *MavlinkDroneConnectionItem) IsOnline() bool        { return i.Online }
func (i *MavlinkDroneConnectionItem) IsKnown() bool         { return i.Known }
func (i *MavlinkDroneConnectionItem) SetOnline(v bool)      { i.Online = v }
func (i *MavlinkDroneConnectionItem) SetKnown(v bool)       { i.Known = v }

func (i *MavlinkDroneConnectionItem) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(int(i.Port)))
}

func (i *MavlinkDroneConnectionItem) SameConnection(other ConnectionItem) bool {
	o, ok := other.(*MavlinkDroneConnectionItem)
	if !ok {
		return false
	}

	return o.Host == i.Host && o.Port == i.Port && o.Transport == i.Transport && o.SystemID == i.SystemID
}

func (i *MavlinkDroneConnectionItem) Bind(known ConnectionItem) {
	o, ok := known.(*MavlinkDroneConnectionItem)
	if !ok {
		return
	}
	if o.ItemName != "" {
		i.ItemName = o.ItemName
	}
	if o.PlatformID != "" {
		i.PlatformID = o.PlatformID
	}
	if o.Known {
		i.Known = true
	}
}

func (i *MavlinkDroneConnectionItem) Info() events.ItemInfo {
	return events.ItemInfo{
		Kind:      i.Kind().String(),
		Name:      i.ItemName,
		Host:      i.Host,
		Port:      i.Port,
		Transport: i.Transport.String(),
		SystemID:  i.SystemID,
		Online:    i.Online,
		Known:     i.Known,
	}
}

func (i *MavlinkDroneConnectionItem) String() string {
	return fmt.Sprintf("%s (%s://%s sys=%d)", i.ItemName, i.Transport, i.Address(), i.SystemID)
}

// MavlinkCameraConnectionItem addresses one camera component. Identity adds
// the camera number to the drone tuple.
type MavlinkCameraConnectionItem struct {
	ItemName     string
	CameraID     string
	Transport    mavlink.TransportType
	Host         string
	Port         uint16
	SystemID     uint8
	ComponentID  uint8
	CameraNumber int
	Online       bool
	Known        bool
}

func (i *MavlinkCameraConnectionItem) Kind() ItemKind        { return KindMavlinkCamera }
func (i *MavlinkCameraConnectionItem) Name() string          { return i.ItemName }
func (i *MavlinkCameraConnectionItem) DescriptionID() string { return i.CameraID }
func (i *MavlinkCameraConnectionItem) IsOnline() bool        { return i.Online }
func (i *MavlinkCameraConnectionItem) IsKnown() bool         { return i.Known }
func (i *MavlinkCameraConnectionItem) SetOnline(v bool)      { i.Online = v }
func (i *MavlinkCameraConnectionItem) SetKnown(v bool)       { i.Known = v }

func (i *MavlinkCameraConnectionItem) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(int(i.Port)))
}

func (i *MavlinkCameraConnectionItem) SameConnection(other ConnectionItem) bool {
	o, ok := other.(*MavlinkCameraConnectionItem)
	if !ok {
		return false
	}

	return o.Host == i.Host && o.Port == i.Port && o.Transport == i.Transport &&
		o.SystemID == i.SystemID && o.CameraNumber == i.CameraNumber
}

func (i *MavlinkCameraConnectionItem) Bind(known ConnectionItem) {
	o, ok := known.(*MavlinkCameraConnectionItem)
	if !ok {
		return
	}
	if o.ItemName != "" {
		i.ItemName = o.ItemName
	}
	if o.CameraID != "" {
		i.CameraID = o.CameraID
	}
	if o.Known {
		i.Known = true
	}
}

func (i *MavlinkCameraConnectionItem) Info() events.ItemInfo {
	return events.ItemInfo{
		Kind:         i.Kind().String(),
		Name:         i.ItemName,
		Host:         i.Host,
		Port:         i.Port,
		Transport:    i.Transport.String(),
		SystemID:     i.SystemID,
		ComponentID:  i.ComponentID,
		CameraNumber: i.CameraNumber,
		Online:       i.Online,
		Known:        i.Known,
	}
}

func (i *MavlinkCameraConnectionItem) String() string {
	return fmt.Sprintf("%s (%s://%s sys=%d cam=%d)", i.ItemName, i.Transport, i.Address(), i.SystemID, i.CameraNumber)
}

// findSame returns the first item in items addressing the same device.
func findSame(items []ConnectionItem, item ConnectionItem) ConnectionItem {
	for _, existing := range items {
		if existing.SameConnection(item) {
			return existing
		}
	}

	return nil
}
