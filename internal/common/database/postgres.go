// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"settlement-engine/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// Schema is the DDL for the settlement tables. Contract and template
// documents are sealed before storage, so they are kept as opaque bytes.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS templates (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		version     INTEGER NOT NULL,
		document    BYTEA NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (name, version)
	)`,
	`CREATE TABLE IF NOT EXISTS contracts (
		id           TEXT PRIMARY KEY,
		template_id  TEXT NOT NULL,
		state        TEXT NOT NULL,
		document     BYTEA NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS contracts_state_idx ON contracts (state)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		balance     NUMERIC(38, 8) NOT NULL CHECK (balance >= 0),
		held        JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id               TEXT PRIMARY KEY,
		from_account_id  TEXT NOT NULL,
		to_account_id    TEXT NOT NULL,
		amount           NUMERIC(38, 8) NOT NULL,
		type             TEXT NOT NULL,
		status           TEXT NOT NULL,
		contract_id      TEXT,
		created_at       TIMESTAMPTZ NOT NULL,
		document         JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_from_idx ON transactions (from_account_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS transactions_to_idx ON transactions (to_account_id, created_at)`,
}

// Migrate applies Schema. Every statement is idempotent.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
