package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load missing config: %v", err)
	}
	if cfg.Listener.ReceivingPort != DefaultReceivingPort {
		t.Fatalf("expected default receiving port, got %d", cfg.Listener.ReceivingPort)
	}
	if !cfg.Listener.AcceptIncomingConnections {
		t.Fatalf("expected accept incoming to default to true")
	}
}

func TestLoadFillsMissingDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := []byte(`{"listener": {"accept_incoming_connections": false}}`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Listener.AcceptIncomingConnections {
		t.Fatalf("expected accept incoming to stay false")
	}
	if cfg.Listener.ReceivingPort != DefaultReceivingPort {
		t.Fatalf("expected default port fill-in, got %d", cfg.Listener.ReceivingPort)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level, got %q", cfg.Logging.Level)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Listener.ReceivingPort = 14551
	cfg.Listener.BroadcastOwnHeartbeat = true

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Listener.ReceivingPort != 14551 {
		t.Fatalf("expected saved port, got %d", loaded.Listener.ReceivingPort)
	}
	if !loaded.Listener.BroadcastOwnHeartbeat {
		t.Fatalf("expected broadcast flag to persist")
	}
}

func TestValidateRejectsZeroBroadcastPort(t *testing.T) {
	cfg := Default()
	cfg.Listener.BroadcastOwnHeartbeat = true
	cfg.Listener.BroadcastPort = 0

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
