// internal/util/errors.go
package util

import "errors"

// Ledger error taxonomy. Handlers map these to HTTP statuses.
var (
	ErrNotFound               = errors.New("resource not found")
	ErrInvalidInput           = errors.New("invalid input provided")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrServiceUnavailable     = errors.New("ledger store unavailable")
	ErrConstraintViolation    = errors.New("balance constraint violation")
	ErrDuplicatePayout        = errors.New("payout already applied for this bet")
	ErrReconciliationMismatch = errors.New("audit log does not reconcile with balance")
)

// IsError reports whether err is, or wraps, target.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}
