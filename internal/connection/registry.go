package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mavgo/internal/bus"
	"mavgo/internal/events"
)

// ConnectionState is the registry-wide aggregate over all devices.
type ConnectionState int

const (
	StateNotConnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "not_connected"
	}
}

// OnlineSource provides the discovered items currently on air.
type OnlineSource interface {
	OnlineItems() []ConnectionItem
}

// KnownItemSource provides the persisted items the user pinned.
type KnownItemSource interface {
	KnownItems(ctx context.Context) ([]ConnectionItem, error)
}

type deviceRecord struct {
	item      ConnectionItem
	connector Connector
}

// Registry merges discovered and persisted items into one available list,
// drives connects and disconnects through per-kind connectors and tracks the
// aggregate connection state. Every item appears at most once; discovery and
// persistence updates land on the same row when SameConnection says they
// describe the same peer.
type Registry struct {
	logger *slog.Logger
	bus    bus.MessageBus
	online OnlineSource
	known  KnownItemSource

	mu         sync.Mutex
	connectors map[ItemKind]Connector
	rows       []ConnectionItem
	connected  []ConnectionItem
	devices    map[Device]deviceRecord
	connecting int
	prevOnline []ConnectionItem
	prevKnown  []ConnectionItem
}

func NewRegistry(logger *slog.Logger, b bus.MessageBus, online OnlineSource, known KnownItemSource) *Registry {
	return &Registry{
		logger:     logger.With("component", "connection_registry"),
		bus:        b,
		online:     online,
		known:      known,
		connectors: make(map[ItemKind]Connector),
		devices:    make(map[Device]deviceRecord),
	}
}

// RegisterConnector installs the connector used for items of the given kind.
func (r *Registry) RegisterConnector(kind ItemKind, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connectors[kind] = c
}

// Run blocks pumping discovery and persistence updates into the merged list
// until ctx cancels.
func (r *Registry) Run(ctx context.Context) {
	sub := r.bus.Subscribe(events.TopicOnlineItems, events.TopicKnownItems)
	defer r.bus.Unsubscribe(sub, events.TopicOnlineItems, events.TopicKnownItems)

	r.RefreshKnown(ctx)
	r.RefreshOnline()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-sub:
			if !open {
				return
			}

			switch msg.(type) {
			case events.OnlineItemsChanged:
				r.RefreshOnline()
			case events.KnownItemsChanged:
				r.RefreshKnown(ctx)
			}
		}
	}
}

// RefreshOnline reconciles the merged list against the discovery snapshot.
func (r *Registry) RefreshOnline() {
	if r.online == nil {
		return
	}
	current := r.online.OnlineItems()

	r.mu.Lock()
	added, removed := diffItems(r.prevOnline, current)
	for _, item := range added {
		r.onOnlineAddedLocked(item)
	}
	for _, item := range removed {
		r.onOnlineRemovedLocked(item)
	}
	r.prevOnline = current
	r.mu.Unlock()

	r.publishAvailable()
}

// RefreshKnown reconciles the merged list against the persisted snapshot.
func (r *Registry) RefreshKnown(ctx context.Context) {
	if r.known == nil {
		return
	}

	current, err := r.known.KnownItems(ctx)
	if err != nil {
		r.logger.Error("loading known items failed", "error", err)

		return
	}

	r.mu.Lock()
	_, removed := diffItems(r.prevKnown, current)
	// Every current item is re-bound, not only additions: an edit to an
	// already-known item keeps its addressing tuple and would otherwise
	// never reach the merged row.
	for _, item := range current {
		r.onKnownItemLocked(item)
	}
	for _, item := range removed {
		r.onKnownRemovedLocked(item)
	}
	r.prevKnown = current
	r.mu.Unlock()

	r.publishAvailable()
}

func (r *Registry) onOnlineAddedLocked(item ConnectionItem) {
	if existing := findSame(r.rows, item); existing != nil {
		existing.SetOnline(true)

		return
	}

	item.SetOnline(true)
	r.rows = append(r.rows, item)
}

func (r *Registry) onOnlineRemovedLocked(item ConnectionItem) {
	existing := findSame(r.rows, item)
	if existing == nil {
		return
	}

	existing.SetOnline(false)
	if !existing.IsKnown() {
		r.rows = removeItem(r.rows, existing)
	}
}

func (r *Registry) onKnownItemLocked(item ConnectionItem) {
	if existing := findSame(r.rows, item); existing != nil {
		// The persisted copy carries the user's edits; they win over what
		// discovery synthesized.
		existing.Bind(item)
		existing.SetKnown(true)

		return
	}

	item.SetKnown(true)
	r.rows = append(r.rows, item)
}

func (r *Registry) onKnownRemovedLocked(item ConnectionItem) {
	existing := findSame(r.rows, item)
	if existing == nil {
		return
	}

	existing.SetKnown(false)
	if !existing.IsOnline() {
		r.rows = removeItem(r.rows, existing)
	}
}

// AvailableItems returns a snapshot of the merged item list.
func (r *Registry) AvailableItems() []ConnectionItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConnectionItem, len(r.rows))
	copy(out, r.rows)

	return out
}

// ConnectedItems returns a snapshot of the items backing live devices.
func (r *Registry) ConnectedItems() []ConnectionItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConnectionItem, len(r.connected))
	copy(out, r.connected)

	return out
}

// State reports connecting while any connect is in flight, connected while
// any device is live, not-connected otherwise.
func (r *Registry) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stateLocked()
}

func (r *Registry) stateLocked() ConnectionState {
	switch {
	case r.connecting > 0:
		return StateConnecting
	case len(r.connected) > 0:
		return StateConnected
	default:
		return StateNotConnected
	}
}

// Connect drives the item's connector and tracks the resulting device.
func (r *Registry) Connect(ctx context.Context, item ConnectionItem) (Device, error) {
	r.mu.Lock()
	connector, ok := r.connectors[item.Kind()]
	if !ok {
		r.mu.Unlock()

		return nil, fmt.Errorf("%s: %w", item.Kind(), ErrUnsupportedConnectionItem)
	}
	r.connecting++
	r.mu.Unlock()
	r.publishState()

	device, err := connector.Connect(ctx, item)

	r.mu.Lock()
	r.connecting--
	if err == nil {
		r.devices[device] = deviceRecord{item: item, connector: connector}
		r.connected = append(r.connected, item)
	}
	r.mu.Unlock()
	r.publishState()

	if err != nil {
		r.logger.Warn("connect failed", "item", item.Name(), "error", err)

		return nil, err
	}

	r.logger.Info("device connected", "item", item.Name())
	r.publishConnected()

	return device, nil
}

// Disconnect initiates teardown of a device tracked by the registry.
// Unknown devices are ignored.
func (r *Registry) Disconnect(device Device) error {
	if device == nil {
		return nil
	}

	r.mu.Lock()
	rec, ok := r.devices[device]
	if !ok {
		r.mu.Unlock()

		return nil
	}
	delete(r.devices, device)
	r.connected = removeItem(r.connected, rec.item)
	r.mu.Unlock()

	err := rec.connector.Disconnect(device)

	r.logger.Info("device disconnected", "item", rec.item.Name())
	r.publishState()
	r.publishConnected()

	return err
}

// ConnectionItemForDevice returns the item a live device was connected from,
// or nil when the device is not tracked.
func (r *Registry) ConnectionItemForDevice(device Device) ConnectionItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[device]
	if !ok {
		return nil
	}

	return rec.item
}

// ConnectedDevice returns the live device connected from an item matching
// the argument, or nil.
func (r *Registry) ConnectedDevice(item ConnectionItem) Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	for device, rec := range r.devices {
		if rec.item.SameConnection(item) {
			return device
		}
	}

	return nil
}

func (r *Registry) publishAvailable() {
	r.bus.Publish(events.TopicAvailableItems, events.AvailableItemsChanged{Items: itemInfos(r.AvailableItems())})
}

func (r *Registry) publishConnected() {
	r.bus.Publish(events.TopicConnectedItems, events.ConnectedItemsChanged{Items: itemInfos(r.ConnectedItems())})
}

func (r *Registry) publishState() {
	r.bus.Publish(events.TopicConnectionState, events.ConnectionStateChanged{
		State:     r.State().String(),
		Timestamp: time.Now(),
	})
}

func itemInfos(items []ConnectionItem) []events.ItemInfo {
	out := make([]events.ItemInfo, 0, len(items))
	for _, item := range items {
		out = append(out, item.Info())
	}

	return out
}

// diffItems splits current against previous by connection identity.
func diffItems(previous, current []ConnectionItem) (added, removed []ConnectionItem) {
	for _, item := range current {
		if findSame(previous, item) == nil {
			added = append(added, item)
		}
	}
	for _, item := range previous {
		if findSame(current, item) == nil {
			removed = append(removed, item)
		}
	}

	return added, removed
}

func removeItem(items []ConnectionItem, target ConnectionItem) []ConnectionItem {
	for i, item := range items {
		if item == target || item.SameConnection(target) {
			return append(items[:i], items[i+1:]...)
		}
	}

	return items
}
