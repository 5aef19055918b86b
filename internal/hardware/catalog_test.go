package hardware

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hardware.json")
	raw := []byte(`{
		"default_platform_id": "px4-generic",
		"platforms": [
			{
				"id": "px4-generic",
				"name": "Generic PX4 Quadrotor",
				"drone_type": "PX4",
				"mavlink": {"autopilot_type": "MAV_AUTOPILOT_PX4", "vehicle_type": "MAV_TYPE_QUADROTOR"}
			}
		],
		"cameras": [
			{"id": "cam-1", "name": "Test Camera"}
		]
	}`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := Load(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	if catalog.DefaultPlatformID() != "px4-generic" {
		t.Fatalf("unexpected default platform id: %q", catalog.DefaultPlatformID())
	}

	desc, err := catalog.PlatformDescription("px4-generic")
	if err != nil {
		t.Fatalf("platform lookup: %v", err)
	}
	if desc.DroneType != "PX4" {
		t.Fatalf("unexpected drone type: %q", desc.DroneType)
	}
	if desc.Mavlink == nil || desc.Mavlink.AutopilotType != "MAV_AUTOPILOT_PX4" {
		t.Fatalf("unexpected mavlink properties: %+v", desc.Mavlink)
	}

	if _, err := catalog.CameraDescription("cam-1"); err != nil {
		t.Fatalf("camera lookup: %v", err)
	}
}

func TestLookupUnknownIDs(t *testing.T) {
	catalog := New("", nil, nil)

	if _, err := catalog.PlatformDescription("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := catalog.CameraDescription("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
