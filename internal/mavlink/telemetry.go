package mavlink

import (
	"context"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// TelemetryReceiver subscribes to periodic telemetry payloads from one
// endpoint, deriving idle timeouts from the peer's reported message
// intervals.
type TelemetryReceiver struct {
	target   Endpoint
	handler  *Handler
	commands *CommandProtocolSender
}

func NewTelemetryReceiver(target Endpoint, handler *Handler) *TelemetryReceiver {
	return &TelemetryReceiver{
		target:   target,
		handler:  handler,
		commands: NewCommandProtocolSender(target, handler),
	}
}

// RegisterTelemetryHandler delivers every message of type T from the
// receiver's endpoint to onPayload until ctx cancels. The idle timeout is
// derived from the peer's configured interval for messageID; when the peer
// does not answer or reports no interval, the fixed default applies.
func RegisterTelemetryHandler[T message.Message](
	ctx context.Context,
	r *TelemetryReceiver,
	messageID uint32,
	onPayload func(T),
	onTimeout func(),
) <-chan error {
	timeout := DefaultReceiveTimeout
	if interval, known, err := r.commands.GetMessageInterval(ctx, messageID); err == nil {
		timeout = AutoTimeout(interval, known)
	}

	return ReceiveEvery(ctx, r.handler, r.target,
		func(payload T, _ Endpoint) {
			onPayload(payload)
		},
		onTimeout, timeout)
}
