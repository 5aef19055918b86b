package settings

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

const schemaVersion = 1

// Open opens (creating if needed) the settings database at path and brings
// its schema up to date.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	if version < 1 {
		stmts := []string{
			`CREATE TABLE known_items (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				kind TEXT NOT NULL,
				name TEXT NOT NULL,
				description_id TEXT NOT NULL DEFAULT '',
				transport TEXT NOT NULL,
				host TEXT NOT NULL,
				port INTEGER NOT NULL,
				system_id INTEGER NOT NULL,
				component_id INTEGER NOT NULL DEFAULT 0,
				camera_number INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL,
				UNIQUE(kind, transport, host, port, system_id, camera_number)
			);`,
			`CREATE TABLE listener_settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);`,
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema v1: %w", err)
			}
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return fmt.Errorf("bump schema version: %w", err)
	}

	return nil
}
