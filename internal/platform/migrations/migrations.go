// Package migrations applies the dispatcher's PostgreSQL schema. Every
// statement is idempotent so Apply can run on each start.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// Execer is satisfied by *sql.DB, *sql.Tx and their sqlx counterparts.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var statements = []string{
	`CREATE TABLE IF NOT EXISTS managed_accounts (
		id BIGINT PRIMARY KEY,
		secret TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS execution_orders (
		seq BIGSERIAL UNIQUE,
		id UUID PRIMARY KEY,
		accounts JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS execution_orders_pending_idx
		ON execution_orders (created_at, seq)
		WHERE started_at IS NULL AND finished_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS swap_amounts (
		position_key INTEGER PRIMARY KEY CHECK (position_key > 0),
		amount NUMERIC(38, 18) NOT NULL CHECK (amount > 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Apply executes every schema statement in order.
func Apply(ctx context.Context, db Execer) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
