package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS eav_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		family TEXT NOT NULL,
		parent_id INTEGER NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS eav_data_family_idx ON eav_data (family)`,
	`CREATE INDEX IF NOT EXISTS eav_data_parent_idx ON eav_data (parent_id)`,
	`CREATE TABLE IF NOT EXISTS eav_value (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data_id INTEGER NOT NULL,
		attribute_code TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		bool_value BOOLEAN NULL,
		integer_value INTEGER NULL,
		decimal_value REAL NULL,
		date_value DATE NULL,
		datetime_value DATETIME NULL,
		string_value TEXT NULL,
		text_value TEXT NULL,
		data_value_id INTEGER NULL,
		context TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS eav_value_data_idx ON eav_value (data_id)`,
	`CREATE INDEX IF NOT EXISTS eav_value_attribute_idx ON eav_value (attribute_code)`,
	`CREATE INDEX IF NOT EXISTS eav_value_string_idx ON eav_value (attribute_code, string_value)`,
	`CREATE INDEX IF NOT EXISTS eav_value_integer_idx ON eav_value (attribute_code, integer_value)`,
	`CREATE INDEX IF NOT EXISTS eav_value_position_idx ON eav_value (position)`,
	`CREATE INDEX IF NOT EXISTS eav_value_reference_idx ON eav_value (data_value_id)`,
}

// NewSQLiteStore opens (or creates) a sqlite database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string, families FamilyResolver) (Store, error) {
	if path == "" {
		path = "eav.db"
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// sqlite serializes writers anyway and every connection to :memory: is a database of its own
	db.SetMaxOpenConns(1)

	s, err := newSQLStore(ctx, db, dialect{name: "sqlite", schema: sqliteSchema}, families)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}
