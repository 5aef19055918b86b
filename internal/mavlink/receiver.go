package mavlink

import (
	"context"
	"errors"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// ErrReceiveTimeout is returned when no matching message arrives in time.
var ErrReceiveTimeout = errors.New("timed out waiting for mavlink message")

const (
	// DefaultReceiveTimeout applies when the peer's message interval is
	// unknown or too short to derive a timeout from.
	DefaultReceiveTimeout = 5 * time.Second

	autoTimeoutFactor      = 5
	minAutoTimeoutInterval = 100 * time.Millisecond
)

// AutoTimeout derives an idle timeout from a peer-reported message interval:
// five times the interval when it is known and at least 100ms, otherwise the
// fixed default.
func AutoTimeout(interval time.Duration, known bool) time.Duration {
	if !known || interval < minAutoTimeoutInterval {
		return DefaultReceiveTimeout
	}

	return autoTimeoutFactor * interval
}

// Await waits for the next message of type T from target that satisfies
// match (nil matches everything). The wait is always bounded: it yields the
// payload and its sender, or ErrReceiveTimeout.
func Await[T message.Message](
	ctx context.Context,
	h *Handler,
	target Endpoint,
	match func(T, Endpoint) bool,
	timeout time.Duration,
) (T, Endpoint, error) {
	var zero T

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := h.Subscribe(subCtx, func(r Received) bool {
		msg, ok := r.Message.(T)
		if !ok || !target.Matches(r.Endpoint) {
			return false
		}

		return match == nil || match(msg, r.Endpoint)
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r, ok := <-sub:
		if !ok {
			return zero, Endpoint{}, ErrHandlerClosed
		}

		return r.Message.(T), r.Endpoint, nil
	case <-timer.C:
		return zero, Endpoint{}, ErrReceiveTimeout
	case <-subCtx.Done():
		return zero, Endpoint{}, subCtx.Err()
	}
}

// ReceiveEvery delivers every matching message of type T from target to
// onPayload until ctx cancels. When timeout is non-zero and no matching
// message arrives within it, onTimeout runs once and the registration tears
// down with ErrReceiveTimeout. The returned channel yields the teardown
// cause (context.Canceled on normal cancellation) and closes.
func ReceiveEvery[T message.Message](
	ctx context.Context,
	h *Handler,
	target Endpoint,
	onPayload func(T, Endpoint),
	onTimeout func(),
	timeout time.Duration,
) <-chan error {
	done := make(chan error, 1)

	subCtx, cancel := context.WithCancel(ctx)
	sub := h.Subscribe(subCtx, func(r Received) bool {
		_, ok := r.Message.(T)

		return ok && target.Matches(r.Endpoint)
	})

	go func() {
		defer close(done)
		defer cancel()

		var timerC <-chan time.Time
		var timer *time.Timer
		if timeout > 0 {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
			timerC = timer.C
		}

		for {
			select {
			case r, ok := <-sub:
				if !ok {
					done <- ErrHandlerClosed

					return
				}
				if timer != nil {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(timeout)
				}
				onPayload(r.Message.(T), r.Endpoint)
			case <-timerC:
				if onTimeout != nil {
					onTimeout()
				}
				done <- ErrReceiveTimeout

				return
			case <-subCtx.Done():
				done <- subCtx.Err()

				return
			}
		}
	}()

	return done
}
