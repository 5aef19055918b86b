package mavlink

import (
	"context"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// MissionProtocolSender covers the slice of the mission micro-protocol the
// connection lifecycle needs: clearing the on-board mission and acknowledging
// unsolicited mission traffic. Full mission upload lives elsewhere.
type MissionProtocolSender struct {
	target  Endpoint
	handler *Handler
}

func NewMissionProtocolSender(target Endpoint, handler *Handler) *MissionProtocolSender {
	return &MissionProtocolSender{target: target, handler: handler}
}

// SendClearAll wipes the peer's stored mission and waits for the mission ack.
func (s *MissionProtocolSender) SendClearAll(ctx context.Context) error {
	payloadFor := func(int) message.Message {
		return &common.MessageMissionClearAll{
			TargetSystem:    s.target.SystemID,
			TargetComponent: s.target.ComponentID,
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		}
	}

	ack, err := sendAndAwait[*common.MessageMissionAck](ctx, s.handler, s.target, payloadFor,
		nil, defaultRepetitions, defaultResponseWindow)
	if err != nil {
		return fmt.Errorf("mission clear all: %w", err)
	}
	if ack.Type != common.MAV_MISSION_ACCEPTED {
		return fmt.Errorf("mission clear all refused: %v", ack.Type)
	}

	return nil
}

// SendMissionAck acknowledges mission traffic from the peer. Fire and forget.
func (s *MissionProtocolSender) SendMissionAck(result common.MAV_MISSION_RESULT) error {
	msg := &common.MessageMissionAck{
		TargetSystem:    s.target.SystemID,
		TargetComponent: s.target.ComponentID,
		Type:            result,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
	if err := s.handler.Send(msg, s.target); err != nil {
		return fmt.Errorf("mission ack: %w", err)
	}

	return nil
}
