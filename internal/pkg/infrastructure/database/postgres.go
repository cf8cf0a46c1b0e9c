package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS eav_data (
		id BIGSERIAL PRIMARY KEY,
		family TEXT NOT NULL,
		parent_id BIGINT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS eav_data_family_idx ON eav_data (family)`,
	`CREATE INDEX IF NOT EXISTS eav_data_parent_idx ON eav_data (parent_id)`,
	`CREATE TABLE IF NOT EXISTS eav_value (
		id BIGSERIAL PRIMARY KEY,
		data_id BIGINT NOT NULL,
		attribute_code TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		bool_value BOOLEAN NULL,
		integer_value BIGINT NULL,
		decimal_value DOUBLE PRECISION NULL,
		date_value DATE NULL,
		datetime_value TIMESTAMPTZ NULL,
		string_value TEXT NULL,
		text_value TEXT NULL,
		data_value_id BIGINT NULL,
		context TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS eav_value_data_idx ON eav_value (data_id)`,
	`CREATE INDEX IF NOT EXISTS eav_value_attribute_idx ON eav_value (attribute_code)`,
	`CREATE INDEX IF NOT EXISTS eav_value_string_idx ON eav_value (attribute_code, string_value)`,
	`CREATE INDEX IF NOT EXISTS eav_value_integer_idx ON eav_value (attribute_code, integer_value)`,
	`CREATE INDEX IF NOT EXISTS eav_value_position_idx ON eav_value (position)`,
	`CREATE INDEX IF NOT EXISTS eav_value_reference_idx ON eav_value (data_value_id)`,
}

type PostgresConfig struct {
	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func LoadPostgresConfig(ctx context.Context) PostgresConfig {
	return PostgresConfig{
		host:     env.GetVariableOrDefault(ctx, "POSTGRES_HOST", ""),
		user:     env.GetVariableOrDefault(ctx, "POSTGRES_USER", ""),
		password: env.GetVariableOrDefault(ctx, "POSTGRES_PASSWORD", ""),
		port:     env.GetVariableOrDefault(ctx, "POSTGRES_PORT", "5432"),
		dbname:   env.GetVariableOrDefault(ctx, "POSTGRES_DBNAME", "diwise"),
		sslmode:  env.GetVariableOrDefault(ctx, "POSTGRES_SSLMODE", "disable"),
	}
}

func (c PostgresConfig) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig, families FamilyResolver) (Store, error) {
	db, err := sql.Open("pgx", cfg.ConnStr())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := newSQLStore(ctx, db, dialect{name: "postgres", schema: postgresSchema, positions: true}, families)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}
