package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"mavgo/internal/bus"
	"mavgo/internal/config"
	"mavgo/internal/connection"
	"mavgo/internal/events"
	"mavgo/internal/mavlink"
)

// ListenerState is the broadcast-listener lifecycle state.
type ListenerState int

const (
	StateStopped ListenerState = iota
	StateListening
	StateFailed
)

func (s ListenerState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateFailed:
		return "failed"
	default:
		return "stopped"
	}
}

const firstCameraNumber = 1

// BroadcastListener binds the MAVLink receiving port and discovers drones
// and cameras from their broadcast heartbeats. Discovered items stay online
// as long as heartbeats keep arriving and drop off after an idle timeout.
// Restarting clears the online lists and the last error, then re-binds.
type BroadcastListener struct {
	logger *slog.Logger
	bus    bus.MessageBus

	// itemTimeout is how long an item survives without a heartbeat. The
	// sweep runs at a tenth of it, so an idle item can outlive the
	// timeout by that much at most.
	itemTimeout time.Duration

	mu      sync.Mutex
	cfg     config.ListenerConfig
	handler *mavlink.Handler
	cancel  context.CancelFunc
	items   []*trackedItem
	state   ListenerState
	lastErr error
}

type trackedItem struct {
	item     connection.ConnectionItem
	lastSeen time.Time
}

func NewBroadcastListener(logger *slog.Logger, b bus.MessageBus, cfg config.ListenerConfig) *BroadcastListener {
	return &BroadcastListener{
		logger:      logger.With("component", "broadcast_listener"),
		bus:         b,
		cfg:         cfg,
		itemTimeout: mavlink.DefaultReceiveTimeout,
	}
}

// Start binds the receiving port and begins discovery. Already-listening
// listeners are restarted; a bind failure leaves the listener in the failed
// state and is returned.
func (l *BroadcastListener) Start() error {
	l.Stop()

	l.mu.Lock()
	cfg := l.cfg
	l.mu.Unlock()

	if !cfg.AcceptIncomingConnections {
		l.logger.Info("incoming connections disabled, listener stays down")

		return nil
	}

	broadcastPort := uint16(0)
	if cfg.BroadcastOwnHeartbeat {
		broadcastPort = cfg.BroadcastPort
	}

	handler, err := mavlink.NewUDPHandler(l.logger, cfg.ReceivingPort, broadcastPort)
	if err != nil {
		l.mu.Lock()
		l.state = StateFailed
		l.lastErr = rootCause(err)
		l.mu.Unlock()
		l.publishStatus()

		return fmt.Errorf("start broadcast listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	l.handler = handler
	l.cancel = cancel
	l.state = StateListening
	l.lastErr = nil
	l.mu.Unlock()

	go l.run(ctx, handler)
	if cfg.BroadcastOwnHeartbeat {
		go l.broadcastHeartbeats(ctx, handler, broadcastPort)
	}

	l.publishStatus()
	l.publishOnline()

	return nil
}

// Stop tears discovery down and clears the online lists. Safe to call on a
// stopped listener.
func (l *BroadcastListener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	handler := l.handler
	l.cancel = nil
	l.handler = nil
	l.items = nil
	l.lastErr = nil
	l.state = StateStopped
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	handler.Close()

	l.publishStatus()
	l.publishOnline()
}

// Apply reconfigures the listener. A running listener restarts with the new
// settings; a stopped one stays stopped until the accept flag allows it.
func (l *BroadcastListener) Apply(cfg config.ListenerConfig) error {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	return l.Start()
}

// State reports the lifecycle state and the persistent last error.
func (l *BroadcastListener) State() (ListenerState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state, l.lastErr
}

// LastError returns the error recorded by the most recent failure, cleared
// on restart.
func (l *BroadcastListener) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lastErr
}

// Restart re-binds the socket with the current settings.
func (l *BroadcastListener) Restart() error {
	return l.Start()
}

// SetAcceptIncoming toggles discovery. Disabling stops the listener;
// enabling starts it.
func (l *BroadcastListener) SetAcceptIncoming(accept bool) error {
	l.mu.Lock()
	cfg := l.cfg
	cfg.AcceptIncomingConnections = accept
	l.mu.Unlock()

	return l.Apply(cfg)
}

// SetListeningPort moves the listener to another receiving port,
// restarting it if it was up.
func (l *BroadcastListener) SetListeningPort(port uint16) error {
	l.mu.Lock()
	cfg := l.cfg
	cfg.ReceivingPort = port
	l.mu.Unlock()

	return l.Apply(cfg)
}

// UDPHandler exposes the shared datagram transport for connectors to
// borrow. Nil while the listener is down.
func (l *BroadcastListener) UDPHandler() *mavlink.Handler {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.handler
}

// OnlineItems returns all currently-broadcasting items.
func (l *BroadcastListener) OnlineItems() []connection.ConnectionItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]connection.ConnectionItem, 0, len(l.items))
	for _, tr := range l.items {
		out = append(out, tr.item)
	}

	return out
}

// OnlineDroneItems returns the drone subset of the online list.
func (l *BroadcastListener) OnlineDroneItems() []connection.ConnectionItem {
	return l.onlineOfKind(connection.KindMavlinkDrone)
}

// OnlineCameraItems returns the camera subset of the online list.
func (l *BroadcastListener) OnlineCameraItems() []connection.ConnectionItem {
	return l.onlineOfKind(connection.KindMavlinkCamera)
}

func (l *BroadcastListener) onlineOfKind(kind connection.ItemKind) []connection.ConnectionItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []connection.ConnectionItem
	for _, tr := range l.items {
		if tr.item.Kind() == kind {
			out = append(out, tr.item)
		}
	}

	return out
}

func (l *BroadcastListener) run(ctx context.Context, handler *mavlink.Handler) {
	receiver := mavlink.NewConnectionProtocolReceiver(mavlink.UnspecifiedUDP(), handler)
	done := receiver.RegisterHeartbeatHandler(ctx, l.onHeartbeat, nil, 0)

	sweep := time.NewTicker(l.itemTimeout / 10)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-done:
			// Stop and restart cancel ctx before tearing the handler
			// down; only a spontaneous teardown is a listener failure.
			if ctx.Err() == nil && err != nil {
				l.fail(err)
			}

			return
		case <-sweep.C:
			l.dropStale()
		}
	}
}

func (l *BroadcastListener) broadcastHeartbeats(ctx context.Context, handler *mavlink.Handler, port uint16) {
	sender := mavlink.NewConnectionProtocolSender(mavlink.BroadcastUDP(port), handler)
	if err := sender.StartSendingHeartbeats(ctx); err != nil && ctx.Err() == nil {
		l.logger.Warn("own-heartbeat broadcast stopped", "error", err)
	}
}

// onHeartbeat classifies one inbound heartbeat and tracks the item it
// describes. Unsupported component ids are logged and dropped.
func (l *BroadcastListener) onHeartbeat(hb *common.MessageHeartbeat, sender mavlink.Endpoint) {
	if sender.SystemID == mavlink.GCSSystemID {
		// Our own broadcasts, or another ground station.
		return
	}

	item := classifyHeartbeat(hb, sender)
	if item == nil {
		l.logger.Debug("heartbeat from unsupported component",
			"system_id", sender.SystemID, "component_id", sender.ComponentID)

		return
	}

	now := time.Now()

	l.mu.Lock()
	for _, tr := range l.items {
		if tr.item.SameConnection(item) {
			tr.lastSeen = now
			l.mu.Unlock()

			return
		}
	}
	item.SetOnline(true)
	l.items = append(l.items, &trackedItem{item: item, lastSeen: now})
	l.mu.Unlock()

	l.logger.Info("discovered item", "name", item.Name(), "kind", item.Kind().String())
	l.publishOnline()
}

func (l *BroadcastListener) dropStale() {
	cutoff := time.Now().Add(-l.itemTimeout)

	l.mu.Lock()
	kept := l.items[:0]
	var dropped []connection.ConnectionItem
	for _, tr := range l.items {
		if tr.lastSeen.After(cutoff) {
			kept = append(kept, tr)
		} else {
			dropped = append(dropped, tr.item)
		}
	}
	l.items = kept
	l.mu.Unlock()

	if len(dropped) == 0 {
		return
	}

	for _, item := range dropped {
		l.logger.Info("item went offline", "name", item.Name())
	}
	l.publishOnline()
}

// fail records a listener error, clears the online lists and leaves the
// error visible until the next restart.
func (l *BroadcastListener) fail(err error) {
	l.logger.Error("broadcast listener failed", "error", err)
	err = rootCause(err)

	l.mu.Lock()
	l.items = nil
	l.state = StateFailed
	l.lastErr = err
	handler := l.handler
	l.handler = nil
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handler != nil {
		handler.Close()
	}

	l.publishStatus()
	l.publishOnline()
}

// rootCause strips the send and receive framing an error picks up on the
// way out, so the recorded failure names the underlying condition.
func rootCause(err error) error {
	for {
		cause := errors.Unwrap(err)
		if cause == nil {
			return err
		}
		err = cause
	}
}

func (l *BroadcastListener) publishStatus() {
	l.mu.Lock()
	status := events.ListenerStatus{
		State:     l.state.String(),
		Port:      l.cfg.ReceivingPort,
		Timestamp: time.Now(),
	}
	if l.lastErr != nil {
		status.Err = l.lastErr.Error()
	}
	l.mu.Unlock()

	l.bus.Publish(events.TopicListenerStatus, status)
}

func (l *BroadcastListener) publishOnline() {
	l.mu.Lock()
	all := make([]events.ItemInfo, 0, len(l.items))
	var drones, cameras []events.ItemInfo
	for _, tr := range l.items {
		info := tr.item.Info()
		all = append(all, info)
		switch tr.item.Kind() {
		case connection.KindMavlinkDrone:
			drones = append(drones, info)
		case connection.KindMavlinkCamera:
			cameras = append(cameras, info)
		}
	}
	l.mu.Unlock()

	l.bus.Publish(events.TopicOnlineItems, events.OnlineItemsChanged{
		All:     all,
		Drones:  drones,
		Cameras: cameras,
	})
}

// classifyHeartbeat maps a heartbeat sender to a connection item, or nil
// when the component id is neither an autopilot candidate nor one of the
// six camera slots.
func classifyHeartbeat(hb *common.MessageHeartbeat, sender mavlink.Endpoint) connection.ConnectionItem {
	host, port := splitAddr(sender.Addr)

	comp := common.MAV_COMPONENT(sender.ComponentID)
	if comp >= common.MAV_COMP_ID_CAMERA && comp <= common.MAV_COMP_ID_CAMERA6 {
		number := int(comp-common.MAV_COMP_ID_CAMERA) + firstCameraNumber

		return &connection.MavlinkCameraConnectionItem{
			ItemName:     fmt.Sprintf("Camera #%d @ %s", number, sender.Addr),
			Transport:    sender.Transport,
			Host:         host,
			Port:         port,
			SystemID:     sender.SystemID,
			ComponentID:  sender.ComponentID,
			CameraNumber: number,
		}
	}

	switch comp {
	case common.MAV_COMP_ID_AUTOPILOT1, common.MAV_COMP_ID_ALL, common.MAV_COMP_ID_SYSTEM_CONTROL:
		return &connection.MavlinkDroneConnectionItem{
			ItemName:  fmt.Sprintf("%s @ %s", autopilotLabel(hb.Autopilot), sender.Addr),
			Transport: sender.Transport,
			Host:      host,
			Port:      port,
			SystemID:  sender.SystemID,
		}
	default:
		return nil
	}
}

// autopilotLabel shortens the autopilot enum to a display word, e.g.
// MAV_AUTOPILOT_PX4 to PX4.
func autopilotLabel(autopilot common.MAV_AUTOPILOT) string {
	return strings.TrimPrefix(autopilot.String(), "MAV_AUTOPILOT_")
}

func splitAddr(addr netip.AddrPort) (string, uint16) {
	return addr.Addr().String(), addr.Port()
}
