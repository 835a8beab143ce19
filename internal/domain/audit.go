// internal/domain/audit.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal" // For precise monetary calculations
)

// OperationType defines the kind of balance mutation an audit entry records.
type OperationType string

const (
	OperationFaucet     OperationType = "faucet"
	OperationBetPlaced  OperationType = "bet_placed"
	OperationBetWon     OperationType = "bet_won"
	OperationPayout     OperationType = "payout"
	OperationWithdrawal OperationType = "withdrawal"
	OperationDeposit    OperationType = "deposit"
)

// IsValid reports whether t is a known operation type.
func (t OperationType) IsValid() bool {
	return t.IsCredit() || t.IsDebit()
}

// IsCredit reports whether t increases the balance.
func (t OperationType) IsCredit() bool {
	switch t {
	case OperationFaucet, OperationBetWon, OperationPayout, OperationDeposit:
		return true
	}
	return false
}

// IsDebit reports whether t decreases the balance.
func (t OperationType) IsDebit() bool {
	return t == OperationBetPlaced || t == OperationWithdrawal
}

// Signed applies the sign implied by t to a magnitude.
func (t OperationType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t.IsDebit() {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}

// AuditLogEntry is one immutable row of balance history.
type AuditLogEntry struct {
	ID            string          `db:"id" json:"id"`                         // UUIDv7, time ordered
	UserAddress   string          `db:"user_address" json:"user_address"`     // References balances.user_address
	OperationType OperationType   `db:"operation_type" json:"operation_type"` // faucet, bet_placed, ...
	Amount        decimal.Decimal `db:"amount" json:"amount"`                 // Magnitude; sign implied by OperationType
	BalanceBefore decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balance_after"`
	CorrelatingID string          `db:"correlating_id" json:"correlating_id"` // Bet id, tx hash, ... may be empty
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// NewAuditLogEntry creates an entry for a mutation from before to before+signed(amount),
// stamped with the mutation time at.
func NewAuditLogEntry(
	address string,
	opType OperationType,
	amount decimal.Decimal,
	before decimal.Decimal,
	correlatingID string,
	at time.Time,
) *AuditLogEntry {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &AuditLogEntry{
		ID:            id.String(),
		UserAddress:   address,
		OperationType: opType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  before.Add(opType.Signed(amount)),
		CorrelatingID: correlatingID,
		CreatedAt:     at.UTC(),
	}
}

// Consistent reports whether BalanceAfter == BalanceBefore + signed(Amount).
func (e *AuditLogEntry) Consistent() bool {
	return e.BalanceBefore.Add(e.OperationType.Signed(e.Amount)).Equal(e.BalanceAfter)
}
