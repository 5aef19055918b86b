package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"mavgo/internal/bus"
	"mavgo/internal/config"
	"mavgo/internal/connection"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	_ = pc.Close()

	return uint16(port)
}

func testListener(t *testing.T, port uint16) *BroadcastListener {
	t.Helper()

	b := bus.New(testLogger())
	t.Cleanup(b.Close)

	l := NewBroadcastListener(testLogger(), b, config.ListenerConfig{
		AcceptIncomingConnections: true,
		ReceivingPort:             port,
	})
	l.itemTimeout = 500 * time.Millisecond
	t.Cleanup(l.Stop)

	return l
}

// beacon is a peer node announcing itself every 100ms until the test ends.
func beacon(t *testing.T, serverPort uint16, systemID, componentID byte, hb *common.MessageHeartbeat) {
	t.Helper()

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPClient{Address: fmt.Sprintf("127.0.0.1:%d", serverPort)},
		},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      systemID,
		OutComponentID:   componentID,
		HeartbeatDisable: true,
	})
	if err != nil {
		t.Fatalf("create beacon: %v", err)
	}
	t.Cleanup(node.Close)

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			node.WriteMessageAll(hb)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func px4Heartbeat() *common.MessageHeartbeat {
	return &common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      common.MAV_AUTOPILOT_PX4,
		SystemStatus:   common.MAV_STATE_ACTIVE,
		MavlinkVersion: 3,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestBroadcastListenerDiscoversDrone(t *testing.T) {
	port := freeUDPPort(t)
	l := testListener(t, port)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	beacon(t, port, 7, byte(common.MAV_COMP_ID_AUTOPILOT1), px4Heartbeat())

	waitFor(t, "drone discovery", func() bool { return len(l.OnlineDroneItems()) == 1 })

	drone := l.OnlineDroneItems()[0].(*connection.MavlinkDroneConnectionItem)
	if drone.SystemID != 7 {
		t.Errorf("expected system id 7, got %d", drone.SystemID)
	}
	if drone.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %q", drone.Host)
	}
	if !strings.Contains(drone.ItemName, "PX4") || !strings.Contains(drone.ItemName, drone.Host) {
		t.Errorf("synthesized name %q must carry autopilot and address", drone.ItemName)
	}
	if !drone.IsOnline() || drone.IsKnown() {
		t.Error("a discovered item is online and not known")
	}
	if len(l.OnlineCameraItems()) != 0 {
		t.Error("an autopilot heartbeat must not produce a camera item")
	}
}

func TestBroadcastListenerDiscoversCamera(t *testing.T) {
	port := freeUDPPort(t)
	l := testListener(t, port)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	beacon(t, port, 7, byte(common.MAV_COMP_ID_CAMERA2), px4Heartbeat())

	waitFor(t, "camera discovery", func() bool { return len(l.OnlineCameraItems()) == 1 })

	camera := l.OnlineCameraItems()[0].(*connection.MavlinkCameraConnectionItem)
	if camera.CameraNumber != 2 {
		t.Errorf("expected camera number 2, got %d", camera.CameraNumber)
	}
	if !strings.Contains(camera.ItemName, "Camera #2") {
		t.Errorf("synthesized name %q must carry the camera number", camera.ItemName)
	}
	if len(l.OnlineDroneItems()) != 0 {
		t.Error("a camera heartbeat must not produce a drone item")
	}
}

func TestBroadcastListenerIgnoresUnsupportedComponents(t *testing.T) {
	port := freeUDPPort(t)
	l := testListener(t, port)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	beacon(t, port, 7, byte(common.MAV_COMP_ID_GIMBAL), px4Heartbeat())

	time.Sleep(600 * time.Millisecond)
	if n := len(l.OnlineItems()); n != 0 {
		t.Errorf("unsupported component ids must be dropped, got %d items", n)
	}
}

func TestBroadcastListenerIgnoresGroundStations(t *testing.T) {
	port := freeUDPPort(t)
	l := testListener(t, port)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	beacon(t, port, 255, byte(common.MAV_COMP_ID_AUTOPILOT1), px4Heartbeat())

	time.Sleep(600 * time.Millisecond)
	if n := len(l.OnlineItems()); n != 0 {
		t.Errorf("ground-station heartbeats must be ignored, got %d items", n)
	}
}

func TestBroadcastListenerDropsStaleItems(t *testing.T) {
	port := freeUDPPort(t)
	l := testListener(t, port)
	l.itemTimeout = 400 * time.Millisecond
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	stop := make(chan struct{})
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPClient{Address: fmt.Sprintf("127.0.0.1:%d", port)},
		},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      7,
		HeartbeatDisable: true,
	})
	if err != nil {
		t.Fatalf("create beacon: %v", err)
	}
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			node.WriteMessageAll(px4Heartbeat())
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	waitFor(t, "discovery", func() bool { return len(l.OnlineDroneItems()) == 1 })

	// Silence the beacon; its item must age out.
	close(stop)
	node.Close()
	waitFor(t, "liveness timeout", func() bool { return len(l.OnlineItems()) == 0 })
}

func TestBroadcastListenerRestartClearsOnlineLists(t *testing.T) {
	port := freeUDPPort(t)
	l := testListener(t, port)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	beacon(t, port, 7, byte(common.MAV_COMP_ID_AUTOPILOT1), px4Heartbeat())
	waitFor(t, "discovery", func() bool { return len(l.OnlineItems()) == 1 })

	if err := l.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if n := len(l.OnlineItems()); n != 0 {
		t.Errorf("restart must clear the online lists, got %d items", n)
	}

	state, lastErr := l.State()
	if state != StateListening || lastErr != nil {
		t.Errorf("expected a clean listening state after restart, got %v / %v", state, lastErr)
	}

	// The beacon is still alive, so discovery resumes.
	waitFor(t, "re-discovery", func() bool { return len(l.OnlineItems()) == 1 })
}

func TestBroadcastListenerStaysDownWhenNotAccepting(t *testing.T) {
	b := bus.New(testLogger())
	t.Cleanup(b.Close)

	l := NewBroadcastListener(testLogger(), b, config.ListenerConfig{
		AcceptIncomingConnections: false,
		ReceivingPort:             freeUDPPort(t),
	})
	t.Cleanup(l.Stop)

	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if l.UDPHandler() != nil {
		t.Error("a non-accepting listener must not bind a socket")
	}

	state, _ := l.State()
	if state != StateStopped {
		t.Errorf("expected stopped, got %v", state)
	}

	// Flipping the toggle brings it up.
	if err := l.SetAcceptIncoming(true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if l.UDPHandler() == nil {
		t.Error("enabling incoming connections must bind the socket")
	}

	if err := l.SetAcceptIncoming(false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if l.UDPHandler() != nil {
		t.Error("disabling incoming connections must close the socket")
	}
}

func TestBroadcastListenerRecordsRootCause(t *testing.T) {
	l := testListener(t, freeUDPPort(t))

	root := errors.New("socket gone")
	l.fail(fmt.Errorf("receive heartbeats: %w", fmt.Errorf("send to broadcast: %w", root)))

	state, lastErr := l.State()
	if state != StateFailed {
		t.Errorf("expected failed state, got %v", state)
	}
	if lastErr != root {
		t.Errorf("expected the root cause to be recorded, got %v", lastErr)
	}
}

func TestBroadcastListenerReportsBindFailure(t *testing.T) {
	port := freeUDPPort(t)
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	l := testListener(t, port)
	if err := l.Start(); err == nil {
		t.Fatal("expected a bind error on an occupied port")
	}

	state, lastErr := l.State()
	if state != StateFailed || lastErr == nil {
		t.Errorf("expected a persistent failed state, got %v / %v", state, lastErr)
	}
}
