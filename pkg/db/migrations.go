// pkg/db/migrations.go
package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS balances (
    user_address TEXT PRIMARY KEY,
    balance      NUMERIC(38, 18) NOT NULL DEFAULT 0 CONSTRAINT balances_non_negative CHECK (balance >= 0),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS balance_audit_log (
    id             UUID PRIMARY KEY,
    user_address   TEXT NOT NULL REFERENCES balances (user_address),
    operation_type TEXT NOT NULL CHECK (operation_type IN ('faucet', 'bet_placed', 'bet_won', 'payout', 'withdrawal', 'deposit')),
    amount         NUMERIC(38, 18) NOT NULL CHECK (amount > 0),
    balance_before NUMERIC(38, 18) NOT NULL,
    balance_after  NUMERIC(38, 18) NOT NULL,
    correlating_id TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_balance_audit_log_address ON balance_audit_log (user_address, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_balance_audit_log_payout_once
    ON balance_audit_log (user_address, correlating_id, operation_type)
    WHERE operation_type IN ('bet_won', 'payout') AND correlating_id <> '';
`

// SQLite keeps decimals as TEXT so values round-trip exactly; the checks cast
// for comparison only.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS balances (
    user_address TEXT PRIMARY KEY,
    balance      TEXT NOT NULL DEFAULT '0' CHECK (CAST(balance AS REAL) >= 0),
    created_at   TIMESTAMP NOT NULL,
    updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS balance_audit_log (
    id             TEXT PRIMARY KEY,
    user_address   TEXT NOT NULL REFERENCES balances (user_address),
    operation_type TEXT NOT NULL CHECK (operation_type IN ('faucet', 'bet_placed', 'bet_won', 'payout', 'withdrawal', 'deposit')),
    amount         TEXT NOT NULL CHECK (CAST(amount AS REAL) > 0),
    balance_before TEXT NOT NULL,
    balance_after  TEXT NOT NULL,
    correlating_id TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_balance_audit_log_address ON balance_audit_log (user_address, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_balance_audit_log_payout_once
    ON balance_audit_log (user_address, correlating_id, operation_type)
    WHERE operation_type IN ('bet_won', 'payout') AND correlating_id <> '';
`

// Migrate creates the ledger tables for the connected driver. It is idempotent.
func Migrate(ctx context.Context, conn *sqlx.DB) error {
	var schema string
	switch conn.DriverName() {
	case DriverPostgres:
		schema = postgresSchema
	case DriverSQLite:
		schema = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported driver %q", conn.DriverName())
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: failed to apply schema: %w", err)
	}
	return nil
}
