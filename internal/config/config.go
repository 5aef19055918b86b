package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultReceivingPort is the standard MAVLink ground-station UDP port.
	DefaultReceivingPort = 14550
	// DefaultBroadcastPort carries our own outgoing heartbeat broadcasts.
	DefaultBroadcastPort = 14570
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ListenerConfig contains the broadcast-listener settings. The settings
// store mirrors these values; changes from either side propagate over the
// bus.
type ListenerConfig struct {
	AcceptIncomingConnections bool   `json:"accept_incoming_connections"`
	BroadcastOwnHeartbeat     bool   `json:"broadcast_own_heartbeat"`
	ReceivingPort             uint16 `json:"receiving_port"`
	BroadcastPort             uint16 `json:"broadcast_port"`
}

// HardwareConfig points at the hardware-description catalog consumed when
// classifying and validating drones.
type HardwareConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// DatabaseConfig locates the sqlite database holding known connection items.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Listener ListenerConfig `json:"listener"`
	Logging  LoggingConfig  `json:"logging"`
	Hardware HardwareConfig `json:"hardware"`
	Database DatabaseConfig `json:"database"`
}

func Default() AppConfig {
	return AppConfig{
		Listener: ListenerConfig{
			AcceptIncomingConnections: true,
			BroadcastOwnHeartbeat:     false,
			ReceivingPort:             DefaultReceivingPort,
			BroadcastPort:             DefaultBroadcastPort,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Hardware: HardwareConfig{
			CatalogPath: "hardware.json",
		},
		Database: DatabaseConfig{
			Path: "mavgo.db",
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by the caller and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Listener.ReceivingPort == 0 {
		c.Listener.ReceivingPort = DefaultReceivingPort
	}
	if c.Listener.BroadcastPort == 0 {
		c.Listener.BroadcastPort = DefaultBroadcastPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Hardware.CatalogPath == "" {
		c.Hardware.CatalogPath = "hardware.json"
	}
	if c.Database.Path == "" {
		c.Database.Path = "mavgo.db"
	}
}

func (c AppConfig) Validate() error {
	if c.Listener.ReceivingPort == 0 {
		return errors.New("receiving port is required")
	}
	if c.Listener.BroadcastOwnHeartbeat && c.Listener.BroadcastPort == 0 {
		return errors.New("broadcast port is required when broadcasting heartbeats")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
