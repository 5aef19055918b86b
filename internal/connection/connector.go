package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"mavgo/internal/bus"
	"mavgo/internal/hardware"
	"mavgo/internal/mavlink"
)

// Connector turns a connection item into a live device. Disconnect only
// initiates teardown; the device reports completion through Done.
type Connector interface {
	Connect(ctx context.Context, item ConnectionItem) (Device, error)
	Disconnect(device Device) error
}

// DiscoveryListener is the slice of the broadcast listener the connector
// needs: a borrowed datagram transport and the cameras currently on air.
type DiscoveryListener interface {
	UDPHandler() *mavlink.Handler
	OnlineCameraItems() []ConnectionItem
}

// handshake is the transport-plus-first-heartbeat state every connect shares
// before drone and camera construction diverge.
type handshake struct {
	ctx     context.Context
	cancel  context.CancelFunc
	handler *mavlink.Handler
	owns    bool
	// endpoint carries the sender's concrete system and component ids as
	// observed on the first heartbeat.
	endpoint  mavlink.Endpoint
	heartbeat *common.MessageHeartbeat
	sender    *mavlink.ConnectionProtocolSender
}

// abort unwinds a handshake whose connect did not complete.
func (h *handshake) abort() {
	h.cancel()
	if h.owns {
		h.handler.Close()
	}
}

// MavlinkConnector connects MAVLink drones and cameras: it opens or borrows
// a transport, exchanges heartbeats, validates the hardware description
// against what the peer reports and assembles the protocol bundle.
type MavlinkConnector struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	catalog  *hardware.Catalog
	listener DiscoveryListener

	heartbeatTimeout time.Duration
	sendHeartbeats   func(context.Context, *mavlink.ConnectionProtocolSender) error
	factories        map[string]DroneFactory
}

func NewMavlinkConnector(
	logger *slog.Logger,
	b bus.MessageBus,
	catalog *hardware.Catalog,
	listener DiscoveryListener,
) *MavlinkConnector {
	return &MavlinkConnector{
		logger:           logger.With("component", "mavlink_connector"),
		bus:              b,
		catalog:          catalog,
		listener:         listener,
		heartbeatTimeout: mavlink.DefaultReceiveTimeout,
		sendHeartbeats: func(ctx context.Context, s *mavlink.ConnectionProtocolSender) error {
			return s.StartSendingHeartbeats(ctx)
		},
		factories: defaultDroneFactories(),
	}
}

func (c *MavlinkConnector) Connect(ctx context.Context, item ConnectionItem) (Device, error) {
	switch it := item.(type) {
	case *MavlinkDroneConnectionItem:
		return c.connectDrone(ctx, it)
	case *MavlinkCameraConnectionItem:
		return c.connectCamera(ctx, it)
	default:
		return nil, fmt.Errorf("%s: %w", item.Kind(), ErrUnsupportedConnectionItem)
	}
}

func (c *MavlinkConnector) Disconnect(device Device) error {
	device.Close()

	return nil
}

func (c *MavlinkConnector) connectDrone(ctx context.Context, item *MavlinkDroneConnectionItem) (Drone, error) {
	hs, err := c.performHandshake(ctx, item.Transport, item.Address(), item.SystemID, 0)
	if err != nil {
		return nil, fmt.Errorf("connect drone %s: %w", item.Name(), err)
	}

	ok := false
	defer func() {
		if !ok {
			hs.abort()
		}
	}()

	platformID := item.PlatformID
	if platformID == "" {
		platformID = c.catalog.DefaultPlatformID()
	}

	desc, err := c.catalog.PlatformDescription(platformID)
	if err != nil {
		return nil, fmt.Errorf("connect drone %s: %v: %w", item.Name(), err, ErrIncompatibleModel)
	}
	if desc.Mavlink == nil {
		return nil, fmt.Errorf("connect drone %s: platform %q has no mavlink properties: %w",
			item.Name(), platformID, ErrIncompatibleModel)
	}
	if desc.Mavlink.AutopilotType != hs.heartbeat.Autopilot.String() ||
		desc.Mavlink.VehicleType != hs.heartbeat.Type.String() {
		return nil, fmt.Errorf("connect drone %s: platform %q expects %s/%s but peer reports %v/%v: %w",
			item.Name(), platformID,
			desc.Mavlink.AutopilotType, desc.Mavlink.VehicleType,
			hs.heartbeat.Autopilot, hs.heartbeat.Type,
			ErrIncompatibleModel)
	}

	factory, found := c.factories[desc.DroneType]
	if !found {
		return nil, fmt.Errorf("connect drone %s: drone type %q: %w", item.Name(), desc.DroneType, ErrUnsupportedDroneType)
	}

	conn := &DroneConnection{
		ctx:         hs.ctx,
		cancel:      hs.cancel,
		Endpoint:    hs.endpoint,
		Handler:     hs.handler,
		ownsHandler: hs.owns,
		Heartbeat:   hs.sender,
		Commands:    mavlink.NewCommandProtocolSender(hs.endpoint, hs.handler),
		Mission:     mavlink.NewMissionProtocolSender(hs.endpoint, hs.handler),
		Parameters:  mavlink.NewParameterProtocolSender(hs.endpoint, hs.handler),
		Telemetry:   mavlink.NewTelemetryReceiver(hs.endpoint, hs.handler),
	}
	conn.Cameras = NewCameraAutoConnect(c.logger, c.bus, c.listener, hs.endpoint.SystemID, c.connectCamera)

	drone, err := factory(item, conn)
	if err != nil {
		return nil, fmt.Errorf("connect drone %s: %w", item.Name(), err)
	}

	hs.handler.RegisterDialect(hs.endpoint.SystemID)
	watchTeardown(hs.ctx, hs.handler, hs.endpoint.SystemID, hs.owns)
	go conn.Cameras.Run(hs.ctx)

	c.logger.Info("drone connected",
		"name", item.Name(), "endpoint", hs.endpoint.String(), "drone_type", desc.DroneType)
	ok = true

	return drone, nil
}

func (c *MavlinkConnector) connectCamera(ctx context.Context, item *MavlinkCameraConnectionItem) (Camera, error) {
	hs, err := c.performHandshake(ctx, item.Transport, item.Address(), item.SystemID, item.ComponentID)
	if err != nil {
		return nil, fmt.Errorf("connect camera %s: %w", item.Name(), err)
	}

	ok := false
	defer func() {
		if !ok {
			hs.abort()
		}
	}()

	name := item.Name()
	if item.CameraID != "" {
		desc, err := c.catalog.CameraDescription(item.CameraID)
		if err != nil {
			return nil, fmt.Errorf("connect camera %s: %v: %w", item.Name(), err, ErrIncompatibleModel)
		}
		if desc.Name != "" {
			name = desc.Name
		}
	}

	conn := &CameraConnection{
		ctx:         hs.ctx,
		cancel:      hs.cancel,
		Endpoint:    hs.endpoint,
		Handler:     hs.handler,
		ownsHandler: hs.owns,
		Heartbeat:   hs.sender,
		Camera:      mavlink.NewCameraProtocolSender(hs.endpoint, hs.handler),
		Status:      mavlink.NewCameraProtocolReceiver(hs.endpoint, hs.handler),
	}

	// Cameras share the drone's system id, so the dialect route may already
	// be registered by a connected drone. Registration is idempotent and
	// unregistration on teardown only drops the route when this connection
	// registered it first.
	registeredHere := !hs.handler.DialectRegistered(hs.endpoint.SystemID)
	if registeredHere {
		hs.handler.RegisterDialect(hs.endpoint.SystemID)
	}
	if registeredHere || hs.owns {
		watchTeardown(hs.ctx, hs.handler, hs.endpoint.SystemID, hs.owns)
	}

	c.logger.Info("camera connected", "name", name, "endpoint", hs.endpoint.String())
	ok = true

	return &MavlinkCamera{name: name, item: item, conn: conn}, nil
}

// performHandshake opens or borrows a transport for the item's address,
// starts this side's periodic heartbeat and waits for the peer's first one.
// On success the returned scope stays alive until cancelled; on failure all
// intermediate state is unwound before returning.
func (c *MavlinkConnector) performHandshake(
	ctx context.Context,
	transport mavlink.TransportType,
	address string,
	systemID uint8,
	componentID uint8,
) (*handshake, error) {
	var (
		handler *mavlink.Handler
		owns    bool
		addr    netip.AddrPort
	)

	switch transport {
	case mavlink.TransportTCP:
		h, err := mavlink.NewTCPHandler(ctx, c.logger, address)
		if err != nil {
			return nil, err
		}
		handler = h
		owns = true
		addr = h.Remote()

	case mavlink.TransportUDP:
		if c.listener == nil || c.listener.UDPHandler() == nil {
			return nil, ErrNoActiveListener
		}
		handler = c.listener.UDPHandler()

		udpAddr, err := net.ResolveUDPAddr("udp", address)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", address, err)
		}
		addr = udpAddr.AddrPort()

	default:
		return nil, fmt.Errorf("transport %s: %w", transport, ErrUnsupportedConnectionItem)
	}

	target := mavlink.Endpoint{
		Transport:   transport,
		Addr:        addr,
		SystemID:    systemID,
		ComponentID: componentID,
	}

	// The connection scope outlives the connect request; only an explicit
	// Close, a heartbeat-sender failure or transport teardown ends it.
	connCtx, cancel := context.WithCancel(context.Background())

	ok := false
	defer func() {
		if !ok {
			cancel()
			if owns {
				handler.Close()
			}
		}
	}()

	sender := mavlink.NewConnectionProtocolSender(target, handler)
	sendFailed := make(chan error, 1)
	go func() {
		if err := c.sendHeartbeats(connCtx, sender); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("heartbeat sender failed, tearing connection down",
				"endpoint", target.String(), "error", err)
			sendFailed <- err
			cancel()
		}
	}()

	// The wait must observe the connection scope too: a sender failure
	// cancels it, and a handshake over a dead scope must not succeed even
	// when a heartbeat still arrives.
	awaitCtx, awaitCancel := context.WithCancel(ctx)
	defer awaitCancel()
	stop := context.AfterFunc(connCtx, awaitCancel)
	defer stop()

	receiver := mavlink.NewConnectionProtocolReceiver(target, handler)
	hb, senderEP, err := receiver.AwaitFirstHeartbeat(awaitCtx, c.heartbeatTimeout)
	if connCtx.Err() != nil {
		select {
		case serr := <-sendFailed:
			return nil, fmt.Errorf("send heartbeats to %s: %w", target.String(), serr)
		default:
			return nil, connCtx.Err()
		}
	}
	if err != nil {
		if errors.Is(err, mavlink.ErrReceiveTimeout) {
			return nil, fmt.Errorf("%s: %w", target.String(), ErrHandshakeTimeout)
		}

		return nil, fmt.Errorf("await heartbeat from %s: %w", target.String(), err)
	}

	ok = true

	return &handshake{
		ctx:       connCtx,
		cancel:    cancel,
		handler:   handler,
		owns:      owns,
		endpoint:  senderEP,
		heartbeat: hb,
		sender:    sender,
	}, nil
}
