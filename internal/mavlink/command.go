package mavlink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	retriesWhenTemporarilyRejected = 40
	delayWhenTemporarilyRejected   = 500 * time.Millisecond
)

// ErrCommandRejected is returned when the peer refuses a command for good.
var ErrCommandRejected = errors.New("mavlink command rejected")

// CommandProtocolSender implements the COMMAND_LONG / COMMAND_ACK
// micro-protocol against one endpoint.
type CommandProtocolSender struct {
	target  Endpoint
	handler *Handler
}

func NewCommandProtocolSender(target Endpoint, handler *Handler) *CommandProtocolSender {
	return &CommandProtocolSender{target: target, handler: handler}
}

// SendCommand sends a command and waits for a successful ack. Ack timeouts
// retry with an increasing confirmation counter; temporary rejection retries
// after a fixed delay, up to a bounded number of attempts.
func (s *CommandProtocolSender) SendCommand(ctx context.Context, cmd common.MAV_CMD, params [7]float32) error {
	for attempt := 0; ; attempt++ {
		result, err := s.sendAndAwaitAck(ctx, cmd, params)
		if err != nil {
			return err
		}

		switch result {
		case common.MAV_RESULT_ACCEPTED:
			return nil
		case common.MAV_RESULT_TEMPORARILY_REJECTED:
			if attempt >= retriesWhenTemporarilyRejected {
				return fmt.Errorf("command %v still temporarily rejected after %d attempts: %w",
					cmd, attempt+1, ErrCommandRejected)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delayWhenTemporarilyRejected):
			}
		default:
			return fmt.Errorf("command %v failed with result %v: %w", cmd, result, ErrCommandRejected)
		}
	}
}

// GetMessageInterval asks the peer how often it emits messageID. The bool
// result is false when the peer reports no configured interval.
func (s *CommandProtocolSender) GetMessageInterval(ctx context.Context, messageID uint32) (time.Duration, bool, error) {
	payloadFor := s.commandFor(common.MAV_CMD_GET_MESSAGE_INTERVAL, [7]float32{float32(messageID)})

	interval, err := sendAndAwait(ctx, s.handler, s.target, payloadFor,
		func(m *common.MessageMessageInterval, _ Endpoint) bool {
			return uint32(m.MessageId) == messageID
		},
		defaultRepetitions, defaultResponseWindow)
	if err != nil {
		return 0, false, fmt.Errorf("get message interval for %d: %w", messageID, err)
	}

	if interval.IntervalUs <= 0 {
		return 0, false, nil
	}

	return time.Duration(interval.IntervalUs) * time.Microsecond, true, nil
}

// SetMessageInterval configures how often the peer emits messageID. A zero
// interval restores the peer's default rate.
func (s *CommandProtocolSender) SetMessageInterval(ctx context.Context, messageID uint32, interval time.Duration) error {
	us := float32(0)
	if interval > 0 {
		us = float32(interval.Microseconds())
	}

	return s.SendCommand(ctx, common.MAV_CMD_SET_MESSAGE_INTERVAL, [7]float32{float32(messageID), us})
}

// RequestAutopilotCapabilities asks the peer for its AUTOPILOT_VERSION
// record.
func (s *CommandProtocolSender) RequestAutopilotCapabilities(ctx context.Context) (*common.MessageAutopilotVersion, error) {
	payloadFor := s.commandFor(common.MAV_CMD_REQUEST_AUTOPILOT_CAPABILITIES, [7]float32{1})

	version, err := sendAndAwait[*common.MessageAutopilotVersion](ctx, s.handler, s.target, payloadFor,
		nil, defaultRepetitions, defaultResponseWindow)
	if err != nil {
		return nil, fmt.Errorf("request autopilot capabilities: %w", err)
	}

	return version, nil
}

func (s *CommandProtocolSender) sendAndAwaitAck(ctx context.Context, cmd common.MAV_CMD, params [7]float32) (common.MAV_RESULT, error) {
	ack, err := sendAndAwait(ctx, s.handler, s.target, s.commandFor(cmd, params),
		func(a *common.MessageCommandAck, _ Endpoint) bool {
			if a.Command != cmd {
				return false
			}

			return a.TargetSystem == 0 || a.TargetSystem == GCSSystemID
		},
		defaultRepetitions, defaultResponseWindow)
	if err != nil {
		return 0, fmt.Errorf("command %v: %w", cmd, err)
	}

	return ack.Result, nil
}

// commandFor builds a COMMAND_LONG factory whose confirmation field carries
// the repetition counter, as the protocol requires for resent commands.
func (s *CommandProtocolSender) commandFor(cmd common.MAV_CMD, params [7]float32) func(int) message.Message {
	return func(repetition int) message.Message {
		return &common.MessageCommandLong{
			TargetSystem:    s.target.SystemID,
			TargetComponent: s.target.ComponentID,
			Command:         cmd,
			Confirmation:    uint8(repetition),
			Param1:          params[0],
			Param2:          params[1],
			Param3:          params[2],
			Param4:          params[3],
			Param5:          params[4],
			Param6:          params[5],
			Param7:          params[6],
		}
	}
}
