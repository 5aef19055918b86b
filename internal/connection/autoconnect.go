package connection

import (
	"context"
	"log/slog"
	"sync"

	"mavgo/internal/bus"
	"mavgo/internal/events"
)

// CameraConnectorFunc connects a single discovered camera item.
type CameraConnectorFunc func(ctx context.Context, item *MavlinkCameraConnectionItem) (Camera, error)

// CameraAutoConnect follows the online-item feed and keeps the cameras that
// belong to one connected drone connected alongside it. Cameras are matched
// to the drone by system id alone; a camera broadcasting from a different
// host with the same system id would be picked up too. The heartbeat carries
// nothing better to correlate on.
type CameraAutoConnect struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	listener DiscoveryListener
	systemID uint8
	connect  CameraConnectorFunc

	mu      sync.Mutex
	cameras []autoCamera
}

type autoCamera struct {
	item   *MavlinkCameraConnectionItem
	camera Camera
}

func NewCameraAutoConnect(
	logger *slog.Logger,
	b bus.MessageBus,
	listener DiscoveryListener,
	systemID uint8,
	connect CameraConnectorFunc,
) *CameraAutoConnect {
	return &CameraAutoConnect{
		logger:   logger.With("component", "camera_autoconnect", "system_id", systemID),
		bus:      b,
		listener: listener,
		systemID: systemID,
		connect:  connect,
	}
}

// Run blocks syncing camera connections against the online list until ctx
// cancels, then disconnects everything it connected.
func (a *CameraAutoConnect) Run(ctx context.Context) {
	sub := a.bus.Subscribe(events.TopicOnlineItems)
	defer a.bus.Unsubscribe(sub, events.TopicOnlineItems)

	a.sync(ctx)

	for {
		select {
		case <-ctx.Done():
			a.closeAll()

			return
		case _, open := <-sub:
			if !open {
				a.closeAll()

				return
			}
			a.sync(ctx)
		}
	}
}

// ConnectedCameras returns the cameras currently held open for the drone.
func (a *CameraAutoConnect) ConnectedCameras() []Camera {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Camera, 0, len(a.cameras))
	for _, c := range a.cameras {
		out = append(out, c.camera)
	}

	return out
}

func (a *CameraAutoConnect) sync(ctx context.Context) {
	if a.listener == nil {
		return
	}

	online := make([]*MavlinkCameraConnectionItem, 0)
	for _, item := range a.listener.OnlineCameraItems() {
		cam, ok := item.(*MavlinkCameraConnectionItem)
		if !ok || cam.SystemID != a.systemID {
			continue
		}
		online = append(online, cam)
	}

	a.mu.Lock()
	kept := a.cameras[:0]
	var gone []autoCamera
	for _, c := range a.cameras {
		still := false
		for _, o := range online {
			if c.item.SameConnection(o) {
				still = true

				break
			}
		}
		if still {
			kept = append(kept, c)
		} else {
			gone = append(gone, c)
		}
	}
	a.cameras = kept

	var missing []*MavlinkCameraConnectionItem
	for _, o := range online {
		if a.findLocked(o) == nil {
			missing = append(missing, o)
		}
	}
	a.mu.Unlock()

	for _, c := range gone {
		a.logger.Info("camera went offline, disconnecting", "camera", c.item.Name())
		c.camera.Close()
	}

	for _, item := range missing {
		camera, err := a.connect(ctx, item)
		if err != nil {
			a.logger.Warn("camera auto-connect failed", "camera", item.Name(), "error", err)

			continue
		}

		a.logger.Info("camera auto-connected", "camera", item.Name())
		a.mu.Lock()
		a.cameras = append(a.cameras, autoCamera{item: item, camera: camera})
		a.mu.Unlock()
	}
}

func (a *CameraAutoConnect) findLocked(item *MavlinkCameraConnectionItem) Camera {
	for _, c := range a.cameras {
		if c.item.SameConnection(item) {
			return c.camera
		}
	}

	return nil
}

func (a *CameraAutoConnect) closeAll() {
	a.mu.Lock()
	cameras := a.cameras
	a.cameras = nil
	a.mu.Unlock()

	for _, c := range cameras {
		c.camera.Close()
	}
}
