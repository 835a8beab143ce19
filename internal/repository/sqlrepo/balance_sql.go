// internal/repository/sqlrepo/balance_sql.go
package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"house-ledger/internal/domain"
	"house-ledger/internal/repository"
	"house-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// BalanceRepository implements repository.BalanceRepository on sqlx.
// Queries are written with '?' placeholders and rebound per driver.
type BalanceRepository struct{}

// NewBalanceRepository creates a new BalanceRepository.
func NewBalanceRepository() repository.BalanceRepository {
	return &BalanceRepository{}
}

const selectBalance = `SELECT user_address, balance, created_at, updated_at FROM balances WHERE user_address = ?`

// GetBalance retrieves a balance by address using the provided DBExecutor.
func (r *BalanceRepository) GetBalance(ctx context.Context, q repository.DBExecutor, address string) (*domain.Balance, error) {
	return r.get(ctx, q, selectBalance, address)
}

// GetBalanceForUpdate retrieves a balance and locks the row. On PostgreSQL this
// is SELECT ... FOR UPDATE; SQLite has no row locks and relies on its single
// writer connection instead.
func (r *BalanceRepository) GetBalanceForUpdate(ctx context.Context, q repository.DBExecutor, address string) (*domain.Balance, error) {
	query := selectBalance
	if q.DriverName() == "postgres" {
		query += " FOR UPDATE"
	}
	return r.get(ctx, q, query, address)
}

func (r *BalanceRepository) get(ctx context.Context, q repository.DBExecutor, query, address string) (*domain.Balance, error) {
	var balance domain.Balance
	err := q.GetContext(ctx, &balance, q.Rebind(query), address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get balance for %s: %w", address, err)
	}
	return &balance, nil
}

// EnsureBalance inserts a zero balance row unless one already exists.
func (r *BalanceRepository) EnsureBalance(ctx context.Context, q repository.DBExecutor, address string, now time.Time) error {
	query := `INSERT INTO balances (user_address, balance, created_at, updated_at)
              VALUES (?, ?, ?, ?) ON CONFLICT (user_address) DO NOTHING`
	if _, err := q.ExecContext(ctx, q.Rebind(query), address, decimal.Zero, now, now); err != nil {
		return fmt.Errorf("failed to ensure balance row for %s: %w", address, err)
	}
	return nil
}

// UpsertBalance writes the new balance for address. The non-negative rule is
// the table's CHECK constraint; a violation comes back as util.ErrConstraintViolation.
func (r *BalanceRepository) UpsertBalance(ctx context.Context, q repository.DBExecutor, address string, newBalance decimal.Decimal, now time.Time) error {
	query := `INSERT INTO balances (user_address, balance, created_at, updated_at)
              VALUES (?, ?, ?, ?)
              ON CONFLICT (user_address) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`
	if _, err := q.ExecContext(ctx, q.Rebind(query), address, newBalance, now, now); err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: balance %s for %s", util.ErrConstraintViolation, newBalance, address)
		}
		return fmt.Errorf("failed to upsert balance for %s: %w", address, err)
	}
	return nil
}
