package mavlink

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// CameraProtocolSender talks to one camera component.
type CameraProtocolSender struct {
	target   Endpoint
	handler  *Handler
	commands *CommandProtocolSender
}

func NewCameraProtocolSender(target Endpoint, handler *Handler) *CameraProtocolSender {
	return &CameraProtocolSender{
		target:   target,
		handler:  handler,
		commands: NewCommandProtocolSender(target, handler),
	}
}

// RequestCameraInformation asks the camera to describe itself and waits for
// the CAMERA_INFORMATION reply.
func (s *CameraProtocolSender) RequestCameraInformation(ctx context.Context) (*common.MessageCameraInformation, error) {
	done := make(chan *common.MessageCameraInformation, 1)

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recv := ReceiveEvery(recvCtx, s.handler, s.target,
		func(info *common.MessageCameraInformation, _ Endpoint) {
			select {
			case done <- info:
			default:
			}
		},
		nil, 0)

	err := s.commands.SendCommand(ctx, common.MAV_CMD_REQUEST_CAMERA_INFORMATION, [7]float32{1})
	if err != nil {
		return nil, fmt.Errorf("request camera information: %w", err)
	}

	timer := time.NewTimer(DefaultReceiveTimeout)
	defer timer.Stop()

	select {
	case info := <-done:
		return info, nil
	case err := <-recv:
		return nil, fmt.Errorf("camera information receiver: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("camera information: %w", ErrReceiveTimeout)
	}
}

// CameraProtocolReceiver subscribes to camera status traffic.
type CameraProtocolReceiver struct {
	target  Endpoint
	handler *Handler
}

func NewCameraProtocolReceiver(target Endpoint, handler *Handler) *CameraProtocolReceiver {
	return &CameraProtocolReceiver{target: target, handler: handler}
}

// RegisterCaptureStatusHandler delivers every CAMERA_CAPTURE_STATUS from the
// camera until ctx cancels.
func (r *CameraProtocolReceiver) RegisterCaptureStatusHandler(
	ctx context.Context,
	onStatus func(*common.MessageCameraCaptureStatus),
	onTimeout func(),
	timeout time.Duration,
) <-chan error {
	return ReceiveEvery(ctx, r.handler, r.target,
		func(status *common.MessageCameraCaptureStatus, _ Endpoint) {
			onStatus(status)
		},
		onTimeout, timeout)
}
