package mavlink

import (
	"context"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// ParameterProtocolSender implements the parameter read micro-protocol
// against one endpoint.
type ParameterProtocolSender struct {
	target  Endpoint
	handler *Handler
}

func NewParameterProtocolSender(target Endpoint, handler *Handler) *ParameterProtocolSender {
	return &ParameterProtocolSender{target: target, handler: handler}
}

// RequestParam reads one named parameter from the peer.
func (s *ParameterProtocolSender) RequestParam(ctx context.Context, name string) (*common.MessageParamValue, error) {
	payloadFor := func(int) message.Message {
		return &common.MessageParamRequestRead{
			TargetSystem:    s.target.SystemID,
			TargetComponent: s.target.ComponentID,
			ParamId:         name,
			ParamIndex:      -1,
		}
	}

	value, err := sendAndAwait(ctx, s.handler, s.target, payloadFor,
		func(v *common.MessageParamValue, _ Endpoint) bool {
			return v.ParamId == name
		},
		defaultRepetitions, defaultResponseWindow)
	if err != nil {
		return nil, fmt.Errorf("request param %q: %w", name, err)
	}

	return value, nil
}
