// internal/repository/audit_repo.go
package repository

import (
	"context"

	"house-ledger/internal/domain"
)

// AuditRepository defines the append-only Audit Log operations.
type AuditRepository interface {
	// Append inserts entry; util.ErrDuplicatePayout when a payout for the same correlating id exists.
	Append(ctx context.Context, q DBExecutor, entry *domain.AuditLogEntry) error
	// ListByAddress returns a page of entries, newest first, and the total count.
	ListByAddress(ctx context.Context, q DBExecutor, address string, limit, offset int) ([]domain.AuditLogEntry, int64, error)
	// ListChronological returns every entry for address, oldest first.
	ListChronological(ctx context.Context, q DBExecutor, address string) ([]domain.AuditLogEntry, error)
}
