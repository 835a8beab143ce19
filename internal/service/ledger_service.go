// internal/service/ledger_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"house-ledger/internal/domain"
	"house-ledger/internal/repository"
	"house-ledger/internal/util"
	"house-ledger/pkg/db"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService defines the balance ledger: reads plus the mutation
// procedures, which are the only way a balance changes.
type LedgerService interface {
	GetBalance(ctx context.Context, address string) (*domain.Balance, error)
	Credit(ctx context.Context, address string, amount decimal.Decimal, opType domain.OperationType, correlatingID string) (*domain.MutationResult, error)
	Debit(ctx context.Context, address string, amount decimal.Decimal, opType domain.OperationType, correlatingID string) (*domain.MutationResult, error)
	CreditForPayout(ctx context.Context, address string, payoutAmount decimal.Decimal, betID string) (*domain.MutationResult, error)
	GetAuditLog(ctx context.Context, address string, limit, offset int) ([]domain.AuditLogEntry, int64, error)
	Reconcile(ctx context.Context, address string) (*domain.Reconciliation, error)
}

// ledgerService implements the LedgerService interface.
type ledgerService struct {
	dbBeginner  db.DBTxBeginner       // For starting transactions (e.g., *sqlx.DB)
	dbExecutor  repository.DBExecutor // For non-transactional reads (e.g., *sqlx.DB)
	balanceRepo repository.BalanceRepository
	auditRepo   repository.AuditRepository
	beginTx     db.BeginTxFunc
	commitTx    db.CommitTxFunc
	rollbackTx  db.RollbackTxFunc

	cache     BalanceCache
	publisher EventPublisher
	logger    *zap.Logger
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(
	dbBeginner db.DBTxBeginner,
	dbExecutor repository.DBExecutor,
	balanceRepo repository.BalanceRepository,
	auditRepo repository.AuditRepository,
	beginTx db.BeginTxFunc,
	commitTx db.CommitTxFunc,
	rollbackTx db.RollbackTxFunc,
	opts ...Option,
) LedgerService {
	s := &ledgerService{
		dbBeginner:  dbBeginner,
		dbExecutor:  dbExecutor,
		balanceRepo: balanceRepo,
		auditRepo:   auditRepo,
		beginTx:     beginTx,
		commitTx:    commitTx,
		rollbackTx:  rollbackTx,
		cache:       noopCache{},
		publisher:   noopPublisher{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBalance reads the current balance. A never-seen address yields util.ErrNotFound.
func (s *ledgerService) GetBalance(ctx context.Context, address string) (*domain.Balance, error) {
	address, err := normalize(address)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(ctx, address); ok {
		return cached, nil
	}

	balance, err := s.balanceRepo.GetBalance(ctx, s.dbExecutor, address)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("get balance: %w", err)
		}
		return nil, storeError("get balance", "failed to read balance", err)
	}
	s.cache.Set(ctx, balance)
	return balance, nil
}

// Credit adds amount to the balance of address, creating the row if needed.
func (s *ledgerService) Credit(ctx context.Context, address string, amount decimal.Decimal, opType domain.OperationType, correlatingID string) (*domain.MutationResult, error) {
	if !opType.IsCredit() {
		return nil, fmt.Errorf("credit: %w: %q is not a credit operation", util.ErrInvalidInput, opType)
	}
	return s.mutate(ctx, "credit", address, amount, opType, correlatingID)
}

// Debit subtracts amount from the balance of address. A debit that would make
// the balance negative fails with util.ErrInsufficientBalance and writes nothing.
func (s *ledgerService) Debit(ctx context.Context, address string, amount decimal.Decimal, opType domain.OperationType, correlatingID string) (*domain.MutationResult, error) {
	if !opType.IsDebit() {
		return nil, fmt.Errorf("debit: %w: %q is not a debit operation", util.ErrInvalidInput, opType)
	}
	return s.mutate(ctx, "debit", address, amount, opType, correlatingID)
}

// CreditForPayout credits a bet win. The store accepts one bet_won entry per
// (address, betID); a repeat fails with util.ErrDuplicatePayout.
func (s *ledgerService) CreditForPayout(ctx context.Context, address string, payoutAmount decimal.Decimal, betID string) (*domain.MutationResult, error) {
	betID = strings.TrimSpace(betID)
	if betID == "" {
		return nil, fmt.Errorf("credit for payout: %w: bet id is required", util.ErrInvalidInput)
	}
	return s.mutate(ctx, "credit for payout", address, payoutAmount, domain.OperationBetWon, betID)
}

// mutate runs one mutation procedure: lock the row, compute the new balance,
// write balance and audit entry, commit. Any failure rolls back both writes.
func (s *ledgerService) mutate(ctx context.Context, op, address string, amount decimal.Decimal, opType domain.OperationType, correlatingID string) (*domain.MutationResult, error) {
	address, err := normalize(address)
	if err != nil {
		return nil, err
	}
	if !domain.ValidAmount(amount) {
		return nil, fmt.Errorf("%s: %w: %s is not a positive amount with at most %d decimal places below 1e20", op, util.ErrInvalidAmount, amount, domain.AmountScale)
	}

	txController, err := s.beginTx(ctx, s.dbBeginner)
	if err != nil {
		return nil, storeError(op, "failed to begin transaction", err)
	}
	defer s.rollbackTx(txController)

	txExecutor, ok := txController.(repository.DBExecutor)
	if !ok {
		return nil, fmt.Errorf("%s: transaction controller does not implement DBExecutor", op)
	}

	if opType.IsCredit() {
		if err := s.balanceRepo.EnsureBalance(ctx, txExecutor, address, time.Now().UTC()); err != nil {
			return nil, storeError(op, "failed to create balance row", err)
		}
	}

	current := domain.NewBalance(address)
	existing, err := s.balanceRepo.GetBalanceForUpdate(ctx, txExecutor, address)
	switch {
	case err == nil:
		current = existing
	case errors.Is(err, util.ErrNotFound):
		// Debit against an address that was never credited: balance is zero.
	default:
		return nil, storeError(op, "failed to lock balance", err)
	}

	// Stamped once the row lock is held, so timestamps follow commit order per address.
	now := time.Now().UTC()
	entry := domain.NewAuditLogEntry(address, opType, amount, current.Balance, correlatingID, now)
	if entry.BalanceAfter.IsNegative() {
		return nil, fmt.Errorf("%s: %w: balance %s, requested %s", op, util.ErrInsufficientBalance, current.Balance, amount)
	}
	if !domain.Storable(entry.BalanceAfter) {
		return nil, fmt.Errorf("%s: %w: balance %s would exceed the storable maximum", op, util.ErrInvalidAmount, entry.BalanceAfter)
	}

	if err := s.balanceRepo.UpsertBalance(ctx, txExecutor, address, entry.BalanceAfter, now); err != nil {
		if errors.Is(err, util.ErrConstraintViolation) {
			return nil, fmt.Errorf("%s: %w: %w", op, util.ErrInsufficientBalance, err)
		}
		return nil, storeError(op, "failed to update balance", err)
	}

	if err := s.auditRepo.Append(ctx, txExecutor, entry); err != nil {
		if errors.Is(err, util.ErrDuplicatePayout) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, storeError(op, "failed to append audit entry", err)
	}

	if err := s.commitTx(txController); err != nil {
		return nil, storeError(op, "failed to commit transaction", err)
	}

	// Post-commit side effects must not be cut short by the caller going away.
	after := context.WithoutCancel(ctx)
	s.cache.Invalidate(after, address)
	s.publisher.PublishBalanceChanged(after, entry)

	s.logger.Info("Balance mutated",
		zap.String("op", op),
		zap.String("user_address", address),
		zap.String("operation_type", string(opType)),
		zap.String("amount", amount.String()),
		zap.String("balance_before", entry.BalanceBefore.String()),
		zap.String("balance_after", entry.BalanceAfter.String()),
		zap.String("correlating_id", correlatingID),
		zap.String("audit_id", entry.ID))

	return &domain.MutationResult{
		Balance: &domain.Balance{
			UserAddress: address,
			Balance:     entry.BalanceAfter,
			CreatedAt:   current.CreatedAt,
			UpdatedAt:   now,
		},
		Entry: entry,
	}, nil
}

// GetAuditLog retrieves a paginated list of audit entries for an address, newest first.
func (s *ledgerService) GetAuditLog(ctx context.Context, address string, limit, offset int) ([]domain.AuditLogEntry, int64, error) {
	address, err := normalize(address)
	if err != nil {
		return nil, 0, err
	}
	entries, total, err := s.auditRepo.ListByAddress(ctx, s.dbExecutor, address, limit, offset)
	if err != nil {
		return nil, 0, storeError("get audit log", "failed to retrieve audit entries", err)
	}
	return entries, total, nil
}

// Reconcile replays the audit log of address and compares it with the stored
// balance. The balance row is locked for the duration so no mutation can
// interleave with the replay.
func (s *ledgerService) Reconcile(ctx context.Context, address string) (*domain.Reconciliation, error) {
	address, err := normalize(address)
	if err != nil {
		return nil, err
	}

	txController, err := s.beginTx(ctx, s.dbBeginner)
	if err != nil {
		return nil, storeError("reconcile", "failed to begin transaction", err)
	}
	defer s.rollbackTx(txController)

	txExecutor, ok := txController.(repository.DBExecutor)
	if !ok {
		return nil, fmt.Errorf("reconcile: transaction controller does not implement DBExecutor")
	}

	stored := decimal.Zero
	balance, err := s.balanceRepo.GetBalanceForUpdate(ctx, txExecutor, address)
	switch {
	case err == nil:
		stored = balance.Balance
	case errors.Is(err, util.ErrNotFound):
	default:
		return nil, storeError("reconcile", "failed to lock balance", err)
	}

	entries, err := s.auditRepo.ListChronological(ctx, txExecutor, address)
	if err != nil {
		return nil, storeError("reconcile", "failed to read audit history", err)
	}

	report := &domain.Reconciliation{
		UserAddress:   address,
		StoredBalance: stored,
		Entries:       len(entries),
		Problems:      []string{},
	}
	running := decimal.Zero
	for _, e := range entries {
		if !e.BalanceBefore.Equal(running) {
			report.Problems = append(report.Problems,
				fmt.Sprintf("entry %s: balance_before %s, expected %s", e.ID, e.BalanceBefore, running))
		}
		if !e.Consistent() {
			report.Problems = append(report.Problems,
				fmt.Sprintf("entry %s: %s %s does not lead from %s to %s", e.ID, e.OperationType, e.Amount, e.BalanceBefore, e.BalanceAfter))
		}
		running = e.BalanceAfter
	}
	report.ReplayedBalance = running
	if !running.Equal(stored) {
		report.Problems = append(report.Problems,
			fmt.Sprintf("replayed balance %s differs from stored balance %s", running, stored))
	}

	if !report.Consistent() {
		s.logger.Error("Balance reconciliation failed",
			zap.String("user_address", address),
			zap.String("stored_balance", stored.String()),
			zap.String("replayed_balance", running.String()),
			zap.Strings("problems", report.Problems))
	}
	return report, nil
}

func normalize(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return "", util.ErrInvalidAddress
	}
	return address, nil
}

// storeError wraps a store failure as util.ErrServiceUnavailable. Context
// cancellation and deadlines are passed through unchanged: the caller cannot
// know whether a mutation committed and must re-query.
func storeError(op, msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %s: %w", op, msg, err)
	}
	return fmt.Errorf("%s: %s: %w: %w", op, msg, util.ErrServiceUnavailable, err)
}
