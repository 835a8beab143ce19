// internal/repository/sqlrepo/audit_sql.go
package sqlrepo

import (
	"context"
	"fmt"

	"house-ledger/internal/domain"
	"house-ledger/internal/repository"
	"house-ledger/internal/util"
)

// AuditRepository implements repository.AuditRepository on sqlx.
type AuditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() repository.AuditRepository {
	return &AuditRepository{}
}

const auditColumns = `id, user_address, operation_type, amount, balance_before, balance_after, correlating_id, created_at`

// Append inserts an audit entry using the provided DBExecutor. It must run in
// the same transaction as the balance change it describes.
func (r *AuditRepository) Append(ctx context.Context, q repository.DBExecutor, entry *domain.AuditLogEntry) error {
	query := `INSERT INTO balance_audit_log (` + auditColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, q.Rebind(query),
		entry.ID,
		entry.UserAddress,
		entry.OperationType,
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.CorrelatingID,
		entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s for %s", util.ErrDuplicatePayout, entry.OperationType, entry.CorrelatingID, entry.UserAddress)
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByAddress retrieves a paginated list of audit entries for an address, newest first.
// It performs two queries: one for the data and one for the total count.
func (r *AuditRepository) ListByAddress(ctx context.Context, q repository.DBExecutor, address string, limit, offset int) ([]domain.AuditLogEntry, int64, error) {
	entries := []domain.AuditLogEntry{}

	query := `SELECT ` + auditColumns + `
		FROM balance_audit_log
		WHERE user_address = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	if err := q.SelectContext(ctx, &entries, q.Rebind(query), address, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to fetch audit entries for %s: %w", address, err)
	}

	var totalCount int64
	countQuery := `SELECT COUNT(*) FROM balance_audit_log WHERE user_address = ?`
	if err := q.GetContext(ctx, &totalCount, q.Rebind(countQuery), address); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries for %s: %w", address, err)
	}

	return entries, totalCount, nil
}

// ListChronological retrieves the full audit history of an address, oldest first.
func (r *AuditRepository) ListChronological(ctx context.Context, q repository.DBExecutor, address string) ([]domain.AuditLogEntry, error) {
	entries := []domain.AuditLogEntry{}
	query := `SELECT ` + auditColumns + `
		FROM balance_audit_log
		WHERE user_address = ?
		ORDER BY created_at ASC, id ASC`
	if err := q.SelectContext(ctx, &entries, q.Rebind(query), address); err != nil {
		return nil, fmt.Errorf("failed to fetch audit history for %s: %w", address, err)
	}
	return entries, nil
}
