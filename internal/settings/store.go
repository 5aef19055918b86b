package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"mavgo/internal/bus"
	"mavgo/internal/config"
	"mavgo/internal/connection"
	"mavgo/internal/events"
	"mavgo/internal/mavlink"
)

const (
	keyAcceptIncoming = "accept_incoming_connections"
	keyBroadcastOwn   = "broadcast_own_heartbeat"
	keyReceivingPort  = "receiving_port"
	keyBroadcastPort  = "broadcast_port"
)

// Store persists known connection items and the listener settings. Every
// write announces itself on the bus so the registry re-reads the known list.
type Store struct {
	logger *slog.Logger
	bus    bus.MessageBus
	db     *sql.DB
}

func NewStore(logger *slog.Logger, b bus.MessageBus, db *sql.DB) *Store {
	return &Store{
		logger: logger.With("component", "settings_store"),
		bus:    b,
		db:     db,
	}
}

// KnownItems loads every persisted item. Rows of unknown kind are skipped
// with a warning, not failed on; a schema from a newer build may carry them.
func (s *Store) KnownItems(ctx context.Context) ([]connection.ConnectionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, name, description_id, transport, host, port, system_id, component_id, camera_number
		FROM known_items
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list known items: %w", err)
	}
	defer rows.Close()

	var out []connection.ConnectionItem
	for rows.Next() {
		var (
			kind, name, descriptionID, transport, host string
			port                                       int64
			systemID, componentID                      int64
			cameraNumber                               int64
		)
		if err := rows.Scan(&kind, &name, &descriptionID, &transport, &host, &port, &systemID, &componentID, &cameraNumber); err != nil {
			return nil, fmt.Errorf("scan known item: %w", err)
		}

		item := buildItem(kind, name, descriptionID, transport, host, uint16(port), uint8(systemID), uint8(componentID), int(cameraNumber))
		if item == nil {
			s.logger.Warn("skipping known item of unknown kind", "kind", kind, "name", name)

			continue
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known items: %w", err)
	}

	return out, nil
}

// SaveItem persists an item, updating the row addressing the same device if
// one exists.
func (s *Store) SaveItem(ctx context.Context, item connection.ConnectionItem) error {
	row, ok := itemRow(item)
	if !ok {
		return fmt.Errorf("save item %s: kind %s is not persistable", item.Name(), item.Kind())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO known_items(kind, name, description_id, transport, host, port, system_id, component_id, camera_number, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, transport, host, port, system_id, camera_number) DO UPDATE SET
			name = excluded.name,
			description_id = excluded.description_id,
			component_id = excluded.component_id,
			updated_at = excluded.updated_at
	`, row.kind, row.name, row.descriptionID, row.transport, row.host, row.port, row.systemID, row.componentID, row.cameraNumber, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save known item: %w", err)
	}

	s.announceKnownChanged()

	return nil
}

// ForgetItem removes the persisted row addressing the same device as item.
// Forgetting an unpersisted item is a no-op.
func (s *Store) ForgetItem(ctx context.Context, item connection.ConnectionItem) error {
	row, ok := itemRow(item)
	if !ok {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM known_items
		WHERE kind = ? AND transport = ? AND host = ? AND port = ? AND system_id = ? AND camera_number = ?
	`, row.kind, row.transport, row.host, row.port, row.systemID, row.cameraNumber)
	if err != nil {
		return fmt.Errorf("forget known item: %w", err)
	}

	s.announceKnownChanged()

	return nil
}

// LoadListenerConfig reads the persisted listener settings, falling back to
// defaults for anything never saved.
func (s *Store) LoadListenerConfig(ctx context.Context) (config.ListenerConfig, error) {
	cfg := config.Default().Listener

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM listener_settings`)
	if err != nil {
		return cfg, fmt.Errorf("load listener settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return cfg, fmt.Errorf("scan listener setting: %w", err)
		}

		switch key {
		case keyAcceptIncoming:
			cfg.AcceptIncomingConnections = value == "1"
		case keyBroadcastOwn:
			cfg.BroadcastOwnHeartbeat = value == "1"
		case keyReceivingPort:
			if port, err := strconv.ParseUint(value, 10, 16); err == nil {
				cfg.ReceivingPort = uint16(port)
			}
		case keyBroadcastPort:
			if port, err := strconv.ParseUint(value, 10, 16); err == nil {
				cfg.BroadcastPort = uint16(port)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("iterate listener settings: %w", err)
	}

	return cfg, nil
}

// SaveListenerConfig persists the listener settings.
func (s *Store) SaveListenerConfig(ctx context.Context, cfg config.ListenerConfig) error {
	pairs := map[string]string{
		keyAcceptIncoming: boolValue(cfg.AcceptIncomingConnections),
		keyBroadcastOwn:   boolValue(cfg.BroadcastOwnHeartbeat),
		keyReceivingPort:  strconv.Itoa(int(cfg.ReceivingPort)),
		keyBroadcastPort:  strconv.Itoa(int(cfg.BroadcastPort)),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save listener settings: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for key, value := range pairs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listener_settings(key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value); err != nil {
			return fmt.Errorf("save listener setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit listener settings: %w", err)
	}

	return nil
}

func (s *Store) announceKnownChanged() {
	s.bus.Publish(events.TopicKnownItems, events.KnownItemsChanged{})
}

type knownRow struct {
	kind          string
	name          string
	descriptionID string
	transport     string
	host          string
	port          uint16
	systemID      uint8
	componentID   uint8
	cameraNumber  int
}

func itemRow(item connection.ConnectionItem) (knownRow, bool) {
	switch it := item.(type) {
	case *connection.MavlinkDroneConnectionItem:
		return knownRow{
			kind:          it.Kind().String(),
			name:          it.ItemName,
			descriptionID: it.PlatformID,
			transport:     it.Transport.String(),
			host:          it.Host,
			port:          it.Port,
			systemID:      it.SystemID,
		}, true
	case *connection.MavlinkCameraConnectionItem:
		return knownRow{
			kind:          it.Kind().String(),
			name:          it.ItemName,
			descriptionID: it.CameraID,
			transport:     it.Transport.String(),
			host:          it.Host,
			port:          it.Port,
			systemID:      it.SystemID,
			componentID:   it.ComponentID,
			cameraNumber:  it.CameraNumber,
		}, true
	default:
		return knownRow{}, false
	}
}

func buildItem(kind, name, descriptionID, transport, host string, port uint16, systemID, componentID uint8, cameraNumber int) connection.ConnectionItem {
	tr, ok := parseTransport(transport)
	if !ok {
		return nil
	}

	switch kind {
	case connection.KindMavlinkDrone.String():
		return &connection.MavlinkDroneConnectionItem{
			ItemName:   name,
			PlatformID: descriptionID,
			Transport:  tr,
			Host:       host,
			Port:       port,
			SystemID:   systemID,
			Known:      true,
		}
	case connection.KindMavlinkCamera.String():
		return &connection.MavlinkCameraConnectionItem{
			ItemName:     name,
			CameraID:     descriptionID,
			Transport:    tr,
			Host:         host,
			Port:         port,
			SystemID:     systemID,
			ComponentID:  componentID,
			CameraNumber: cameraNumber,
			Known:        true,
		}
	default:
		return nil
	}
}

func parseTransport(s string) (mavlink.TransportType, bool) {
	switch s {
	case mavlink.TransportUDP.String():
		return mavlink.TransportUDP, true
	case mavlink.TransportTCP.String():
		return mavlink.TransportTCP, true
	default:
		return 0, false
	}
}

func boolValue(v bool) string {
	if v {
		return "1"
	}

	return "0"
}
