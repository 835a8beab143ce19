// internal/domain/balance.go
package domain

import (
	"time"

	"github.com/shopspring/decimal" // For precise monetary calculations
)

// Balance is a user's off-chain house balance.
type Balance struct {
	UserAddress string          `db:"user_address" json:"user_address"` // Primary key, lower-cased address
	Balance     decimal.Decimal `db:"balance" json:"balance"`           // Never negative, CHECK constraint in DB
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`     // Timestamp of creation
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`     // Refreshed on every mutation
}

// NewBalance creates a zero Balance for address.
func NewBalance(address string) *Balance {
	now := time.Now().UTC()
	return &Balance{
		UserAddress: address,
		Balance:     decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MutationResult is what a committed mutation procedure returns.
type MutationResult struct {
	Balance *Balance
	Entry   *AuditLogEntry
}

// NewBalance returns the balance after the mutation.
func (r *MutationResult) NewBalance() decimal.Decimal {
	return r.Balance.Balance
}
