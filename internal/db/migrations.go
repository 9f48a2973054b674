package db

import (
	"fmt"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version > current {
			if err := db.runMigration(m); err != nil {
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
	}

	return nil
}

// SchemaVersion reports the highest applied migration version (0 for a fresh database).
func (db *DB) SchemaVersion() (int, error) {
	var version int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

// LatestSchemaVersion is the version Migrate brings a database to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

type migration struct {
	version int
	sql     string
}

func (db *DB) runMigration(m migration) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
		return err
	}

	return tx.Commit()
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			-- Uploaded slide decks
			CREATE TABLE presentations (
				id TEXT PRIMARY KEY,
				file_path TEXT NOT NULL,
				file_name TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX idx_presentations_created ON presentations(created_at);
		`,
	},
	{
		version: 2,
		sql: `
			-- WebAuthn credentials for the single local user
			CREATE TABLE passkeys (
				id TEXT PRIMARY KEY,
				credential_id BLOB NOT NULL UNIQUE,
				public_key BLOB NOT NULL,
				attestation_type TEXT NOT NULL DEFAULT '',
				aaguid BLOB,
				sign_count INTEGER NOT NULL DEFAULT 0,
				name TEXT NOT NULL DEFAULT '',
				transports TEXT NOT NULL DEFAULT '',
				backup_eligible INTEGER NOT NULL DEFAULT 0,
				backup_state INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				last_used_at DATETIME
			);
		`,
	},
	{
		version: 3,
		sql: `
			-- Deck size and content type, filled by the upload endpoint
			ALTER TABLE presentations ADD COLUMN content_type TEXT NOT NULL DEFAULT '';
			ALTER TABLE presentations ADD COLUMN size_bytes INTEGER NOT NULL DEFAULT 0;
		`,
	},
}
