// internal/repository/balance_repo.go
package repository

import (
	"context"
	"time"

	"house-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// BalanceRepository defines the Ledger Store operations.
type BalanceRepository interface {
	// GetBalance reads a balance; util.ErrNotFound when the address has no row.
	GetBalance(ctx context.Context, q DBExecutor, address string) (*domain.Balance, error)
	// GetBalanceForUpdate reads a balance and locks its row until the transaction ends.
	GetBalanceForUpdate(ctx context.Context, q DBExecutor, address string) (*domain.Balance, error)
	// EnsureBalance creates a zero balance row if none exists.
	EnsureBalance(ctx context.Context, q DBExecutor, address string, now time.Time) error
	// UpsertBalance writes newBalance; util.ErrConstraintViolation if the store rejects it.
	UpsertBalance(ctx context.Context, q DBExecutor, address string, newBalance decimal.Decimal, now time.Time) error
}
