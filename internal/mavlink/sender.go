package mavlink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	defaultRepetitions    = 3
	defaultResponseWindow = 1 * time.Second
)

// SendPeriodically sends build() to target every interval until ctx cancels.
// The first send happens immediately. A failed send stops the loop and is
// returned, except for ErrNoRoute which is retried on the next tick;
// cancellation returns ctx.Err().
func SendPeriodically(
	ctx context.Context,
	h *Handler,
	target Endpoint,
	interval time.Duration,
	build func() message.Message,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := h.Send(build(), target); err != nil {
			// A datagram route appears with the peer's first inbound
			// frame; keep ticking until then.
			if !errors.Is(err, ErrNoRoute) {
				return fmt.Errorf("periodic send to %s: %w", target, err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sendAndAwait sends payloadFor(repetition) and waits for a response of type
// T selected by match, retrying up to repetitions times when a per-window
// timeout elapses. Transport errors and cancellation abort immediately.
func sendAndAwait[T message.Message](
	ctx context.Context,
	h *Handler,
	target Endpoint,
	payloadFor func(repetition int) message.Message,
	match func(T, Endpoint) bool,
	repetitions int,
	responseWindow time.Duration,
) (T, error) {
	var zero T
	if repetitions < 1 {
		repetitions = 1
	}

	var lastErr error
	for rep := 0; rep < repetitions; rep++ {
		if err := h.Send(payloadFor(rep), target); err != nil {
			return zero, err
		}

		resp, _, err := Await(ctx, h, target, match, responseWindow)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrReceiveTimeout) {
			return zero, err
		}
		lastErr = err
	}

	return zero, fmt.Errorf("no response from %s after %d attempts: %w", target, repetitions, lastErr)
}
