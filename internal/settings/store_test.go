package settings

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"mavgo/internal/bus"
	"mavgo/internal/config"
	"mavgo/internal/connection"
	"mavgo/internal/events"
	"mavgo/internal/mavlink"
)

func testStore(t *testing.T) (*Store, *bus.PubSubBus) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	db, err := Open(ctx, filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("open settings db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New(slog.Default())
	t.Cleanup(b.Close)

	return NewStore(slog.Default(), b, db), b
}

func knownDrone() *connection.MavlinkDroneConnectionItem {
	return &connection.MavlinkDroneConnectionItem{
		ItemName:   "Survey Quad",
		PlatformID: "px4-generic",
		Transport:  mavlink.TransportUDP,
		Host:       "10.0.0.5",
		Port:       14550,
		SystemID:   1,
	}
}

func TestStoreSaveAndLoadKnownItems(t *testing.T) {
	s, b := testStore(t)
	ctx := context.Background()

	sub := b.Subscribe(events.TopicKnownItems)
	defer b.Unsubscribe(sub, events.TopicKnownItems)

	camera := &connection.MavlinkCameraConnectionItem{
		ItemName:     "Bay Camera",
		CameraID:     "cam-x",
		Transport:    mavlink.TransportUDP,
		Host:         "10.0.0.5",
		Port:         14550,
		SystemID:     1,
		ComponentID:  100,
		CameraNumber: 1,
	}

	if err := s.SaveItem(ctx, knownDrone()); err != nil {
		t.Fatalf("save drone: %v", err)
	}
	if err := s.SaveItem(ctx, camera); err != nil {
		t.Fatalf("save camera: %v", err)
	}

	select {
	case msg := <-sub:
		if _, ok := msg.(events.KnownItemsChanged); !ok {
			t.Errorf("expected KnownItemsChanged, got %T", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no bus announcement after save")
	}

	items, err := s.KnownItems(ctx)
	if err != nil {
		t.Fatalf("load known items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 known items, got %d", len(items))
	}

	var drone *connection.MavlinkDroneConnectionItem
	var cam *connection.MavlinkCameraConnectionItem
	for _, item := range items {
		switch it := item.(type) {
		case *connection.MavlinkDroneConnectionItem:
			drone = it
		case *connection.MavlinkCameraConnectionItem:
			cam = it
		}
	}
	if drone == nil || cam == nil {
		t.Fatalf("expected one drone and one camera, got %v", items)
	}

	if !drone.Known || !cam.Known {
		t.Error("loaded items must be marked known")
	}
	if drone.ItemName != "Survey Quad" || drone.PlatformID != "px4-generic" ||
		drone.Host != "10.0.0.5" || drone.Port != 14550 || drone.SystemID != 1 ||
		drone.Transport != mavlink.TransportUDP {
		t.Errorf("drone did not round-trip: %+v", drone)
	}
	if cam.CameraNumber != 1 || cam.ComponentID != 100 || cam.CameraID != "cam-x" {
		t.Errorf("camera did not round-trip: %+v", cam)
	}
}

func TestStoreSaveUpdatesSameDevice(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if err := s.SaveItem(ctx, knownDrone()); err != nil {
		t.Fatalf("save: %v", err)
	}

	renamed := knownDrone()
	renamed.ItemName = "Renamed Quad"
	renamed.PlatformID = "px4-heavy"
	if err := s.SaveItem(ctx, renamed); err != nil {
		t.Fatalf("save again: %v", err)
	}

	items, err := s.KnownItems(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("saving the same device twice must keep one row, got %d", len(items))
	}

	drone := items[0].(*connection.MavlinkDroneConnectionItem)
	if drone.ItemName != "Renamed Quad" || drone.PlatformID != "px4-heavy" {
		t.Errorf("update did not apply: %+v", drone)
	}
}

func TestStoreForgetItem(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if err := s.SaveItem(ctx, knownDrone()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.ForgetItem(ctx, knownDrone()); err != nil {
		t.Fatalf("forget: %v", err)
	}

	items, err := s.KnownItems(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items after forget, got %d", len(items))
	}

	// Forgetting something that was never saved is fine.
	if err := s.ForgetItem(ctx, knownDrone()); err != nil {
		t.Errorf("forget of absent item must be a no-op, got %v", err)
	}
}

func TestStoreRejectsUnpersistableKinds(t *testing.T) {
	s, _ := testStore(t)

	err := s.SaveItem(context.Background(), &connection.MockConnectionItem{ItemName: "mock"})
	if err == nil {
		t.Fatal("expected an error saving a mock item")
	}
}

func TestStoreListenerConfigRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	cfg, err := s.LoadListenerConfig(ctx)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.ReceivingPort != config.DefaultReceivingPort {
		t.Errorf("an empty store must yield defaults, got port %d", cfg.ReceivingPort)
	}

	saved := config.ListenerConfig{
		AcceptIncomingConnections: false,
		BroadcastOwnHeartbeat:     true,
		ReceivingPort:             24550,
		BroadcastPort:             24570,
	}
	if err := s.SaveListenerConfig(ctx, saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.LoadListenerConfig(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != saved {
		t.Errorf("listener config did not round-trip: got %+v, want %+v", loaded, saved)
	}
}
