package connection

import (
	"context"

	"mavgo/internal/mavlink"
)

// Device is a live connected drone or camera. Close cancels the connection
// scope; every dependent sender and receiver unwinds from that cancellation
// and the peer's dialect route is unregistered. Close is idempotent.
type Device interface {
	Name() string
	Item() ConnectionItem
	Close()
	Done() <-chan struct{}
}

// Drone is a connected autopilot of a concrete platform type.
type Drone interface {
	Device
	// Type is the hardware-description drone-type discriminator, e.g. "PX4".
	Type() string
	Connection() *DroneConnection
}

// Camera is a connected camera component.
type Camera interface {
	Device
	Connection() *CameraConnection
}

// DroneConnection bundles the protocol senders and receivers bound to one
// endpoint over one shared transport handler. It exists only after a
// successful handshake.
type DroneConnection struct {
	ctx    context.Context
	cancel context.CancelFunc

	Endpoint    mavlink.Endpoint
	Handler     *mavlink.Handler
	ownsHandler bool

	Heartbeat  *mavlink.ConnectionProtocolSender
	Commands   *mavlink.CommandProtocolSender
	Mission    *mavlink.MissionProtocolSender
	Parameters *mavlink.ParameterProtocolSender
	Telemetry  *mavlink.TelemetryReceiver

	Cameras *CameraAutoConnect
}

// Close cancels the connection scope. Safe to call multiple times.
func (c *DroneConnection) Close() {
	c.cancel()
}

// Done reports when the connection scope has been cancelled.
func (c *DroneConnection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context exposes the connection scope for dependent registrations.
func (c *DroneConnection) Context() context.Context {
	return c.ctx
}

// CameraConnection bundles the camera-facing protocol instances.
type CameraConnection struct {
	ctx    context.Context
	cancel context.CancelFunc

	Endpoint    mavlink.Endpoint
	Handler     *mavlink.Handler
	ownsHandler bool

	Heartbeat *mavlink.ConnectionProtocolSender
	Camera    *mavlink.CameraProtocolSender
	Status    *mavlink.CameraProtocolReceiver
}

func (c *CameraConnection) Close() {
	c.cancel()
}

func (c *CameraConnection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *CameraConnection) Context() context.Context {
	return c.ctx
}

// watchTeardown unwinds transport state once the connection scope cancels:
// the peer's dialect route is dropped and a privately-owned handler is
// closed. Borrowed handlers are left alone; the listener owns them.
func watchTeardown(ctx context.Context, handler *mavlink.Handler, systemID uint8, owns bool) {
	go func() {
		<-ctx.Done()
		handler.UnregisterDialect(systemID)
		if owns {
			handler.Close()
		}
	}()
}
