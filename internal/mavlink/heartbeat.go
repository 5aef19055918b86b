package mavlink

import (
	"context"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const heartbeatInterval = 1 * time.Second

// ConnectionProtocolSender emits this application's own GCS heartbeat toward
// one endpoint.
type ConnectionProtocolSender struct {
	target  Endpoint
	handler *Handler
}

func NewConnectionProtocolSender(target Endpoint, handler *Handler) *ConnectionProtocolSender {
	return &ConnectionProtocolSender{target: target, handler: handler}
}

// StartSendingHeartbeats blocks sending one heartbeat per second until ctx
// cancels or a send fails. Callers treat a non-cancellation return as fatal
// for the owning connection.
func (s *ConnectionProtocolSender) StartSendingHeartbeats(ctx context.Context) error {
	return SendPeriodically(ctx, s.handler, s.target, heartbeatInterval, func() message.Message {
		return &common.MessageHeartbeat{
			Type:           common.MAV_TYPE_GCS,
			Autopilot:      common.MAV_AUTOPILOT_INVALID,
			SystemStatus:   common.MAV_STATE_ACTIVE,
			MavlinkVersion: 3,
		}
	})
}

// ConnectionProtocolReceiver listens for heartbeats from one endpoint, or
// from anyone when constructed with an unspecified endpoint.
type ConnectionProtocolReceiver struct {
	target  Endpoint
	handler *Handler
}

func NewConnectionProtocolReceiver(target Endpoint, handler *Handler) *ConnectionProtocolReceiver {
	return &ConnectionProtocolReceiver{target: target, handler: handler}
}

// RegisterHeartbeatHandler invokes onHeartbeat for every heartbeat from the
// receiver's endpoint and onTimeout when none arrives within timeout (zero
// disables the idle timer). The returned channel completes when the
// registration tears down.
func (r *ConnectionProtocolReceiver) RegisterHeartbeatHandler(
	ctx context.Context,
	onHeartbeat func(*common.MessageHeartbeat, Endpoint),
	onTimeout func(),
	timeout time.Duration,
) <-chan error {
	return ReceiveEvery(ctx, r.handler, r.target, onHeartbeat, onTimeout, timeout)
}

// AwaitFirstHeartbeat performs the handshake wait: it returns the first
// heartbeat from the receiver's endpoint, or ErrReceiveTimeout.
func (r *ConnectionProtocolReceiver) AwaitFirstHeartbeat(
	ctx context.Context,
	timeout time.Duration,
) (*common.MessageHeartbeat, Endpoint, error) {
	return Await[*common.MessageHeartbeat](ctx, r.handler, r.target, nil, timeout)
}
