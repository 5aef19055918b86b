package events

import "time"

// Bus topics. Discovery and registry publish snapshots here; the UI and the
// debug tool subscribe.
const (
	TopicListenerStatus  = "listener.status"
	TopicOnlineItems     = "listener.online"
	TopicKnownItems      = "settings.known"
	TopicAvailableItems  = "registry.available"
	TopicConnectedItems  = "registry.connected"
	TopicConnectionState = "registry.state"
)

// ItemInfo is a flat, bus-friendly view of one connection item.
type ItemInfo struct {
	Kind         string
	Name         string
	Host         string
	Port         uint16
	Transport    string
	SystemID     uint8
	ComponentID  uint8
	CameraNumber int
	Online       bool
	Known        bool
}

// ListenerStatus describes the broadcast listener session.
type ListenerStatus struct {
	State     string
	Port      uint16
	Err       string
	Timestamp time.Time
}

// OnlineItemsChanged is published whenever the discovered-item lists change.
type OnlineItemsChanged struct {
	All     []ItemInfo
	Drones  []ItemInfo
	Cameras []ItemInfo
}

// KnownItemsChanged is published by the settings store after every write.
type KnownItemsChanged struct{}

// AvailableItemsChanged carries the registry's merged item list.
type AvailableItemsChanged struct {
	Items []ItemInfo
}

// ConnectedItemsChanged carries the registry's currently-live items.
type ConnectedItemsChanged struct {
	Items []ItemInfo
}

// ConnectionStateChanged is published on every global state transition.
type ConnectionStateChanged struct {
	State     string
	Timestamp time.Time
}
