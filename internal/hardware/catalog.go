package hardware

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no description exists for an id.
var ErrNotFound = errors.New("hardware description not found")

// MavlinkProperties are the protocol-facing fields of a platform
// description, matched case-sensitively against live heartbeats.
type MavlinkProperties struct {
	AutopilotType string `json:"autopilot_type"`
	VehicleType   string `json:"vehicle_type"`
}

// PlatformDescription describes one supported drone model.
type PlatformDescription struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	DroneType string             `json:"drone_type"`
	Mavlink   *MavlinkProperties `json:"mavlink"`
}

// CameraDescription describes one supported camera model.
type CameraDescription struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalog is the immutable hardware-description lookup service. Loaded once
// at startup; descriptions are returned by value and never mutated.
type Catalog struct {
	defaultPlatformID string
	platforms         map[string]PlatformDescription
	cameras           map[string]CameraDescription
}

type catalogFile struct {
	DefaultPlatformID string                `json:"default_platform_id"`
	Platforms         []PlatformDescription `json:"platforms"`
	Cameras           []CameraDescription   `json:"cameras"`
}

// Load reads a catalog file from disk.
func Load(path string) (*Catalog, error) {
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from app configuration.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read hardware catalog: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode hardware catalog: %w", err)
	}

	return New(file.DefaultPlatformID, file.Platforms, file.Cameras), nil
}

// DefaultCatalog covers the common stock autopilots, for setups without a
// catalog file.
func DefaultCatalog() *Catalog {
	return New("px4-generic", []PlatformDescription{
		{
			ID:        "px4-generic",
			Name:      "Generic PX4 Quadrotor",
			DroneType: "PX4",
			Mavlink: &MavlinkProperties{
				AutopilotType: "MAV_AUTOPILOT_PX4",
				VehicleType:   "MAV_TYPE_QUADROTOR",
			},
		},
		{
			ID:        "arducopter-generic",
			Name:      "Generic ArduCopter Quadrotor",
			DroneType: "ArduCopter",
			Mavlink: &MavlinkProperties{
				AutopilotType: "MAV_AUTOPILOT_ARDUPILOTMEGA",
				VehicleType:   "MAV_TYPE_QUADROTOR",
			},
		},
	}, nil)
}

// New builds a catalog from already-parsed descriptions.
func New(defaultPlatformID string, platforms []PlatformDescription, cameras []CameraDescription) *Catalog {
	c := &Catalog{
		defaultPlatformID: defaultPlatformID,
		platforms:         make(map[string]PlatformDescription, len(platforms)),
		cameras:           make(map[string]CameraDescription, len(cameras)),
	}
	for _, p := range platforms {
		c.platforms[p.ID] = p
	}
	for _, cam := range cameras {
		c.cameras[cam.ID] = cam
	}

	return c
}

// DefaultPlatformID names the platform assumed for unclassified items.
func (c *Catalog) DefaultPlatformID() string {
	return c.defaultPlatformID
}

// PlatformDescription looks a platform up by id.
func (c *Catalog) PlatformDescription(id string) (PlatformDescription, error) {
	desc, ok := c.platforms[id]
	if !ok {
		return PlatformDescription{}, fmt.Errorf("platform %q: %w", id, ErrNotFound)
	}

	return desc, nil
}

// CameraDescription looks a camera up by id.
func (c *Catalog) CameraDescription(id string) (CameraDescription, error) {
	desc, ok := c.cameras[id]
	if !ok {
		return CameraDescription{}, fmt.Errorf("camera %q: %w", id, ErrNotFound)
	}

	return desc, nil
}
