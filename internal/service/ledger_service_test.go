// internal/service/ledger_service_test.go
package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"house-ledger/internal/domain"
	"house-ledger/internal/repository"
	"house-ledger/internal/util"
	"house-ledger/pkg/db" // Import pkg/db for interfaces and function types

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDBExecutor is a mock implementation of repository.DBExecutor.
type MockDBExecutor struct {
	mock.Mock
}

func (m *MockDBExecutor) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	argsCalled := m.Called(ctx, dest, query, args)
	return argsCalled.Error(0)
}

func (m *MockDBExecutor) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	argsCalled := m.Called(ctx, dest, query, args)
	return argsCalled.Error(0)
}

func (m *MockDBExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	argsCalled := m.Called(ctx, query, args)
	return argsCalled.Get(0).(sql.Result), argsCalled.Error(1)
}

func (m *MockDBExecutor) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	m.Called(ctx, query, args)
	return &sql.Row{}
}

func (m *MockDBExecutor) Rebind(query string) string { return query }

func (m *MockDBExecutor) DriverName() string { return "mock" }

// MockBalanceRepository is a mock implementation of repository.BalanceRepository.
type MockBalanceRepository struct {
	mock.Mock
}

func (m *MockBalanceRepository) GetBalance(ctx context.Context, q repository.DBExecutor, address string) (*domain.Balance, error) {
	args := m.Called(ctx, q, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Balance), args.Error(1)
}

func (m *MockBalanceRepository) GetBalanceForUpdate(ctx context.Context, q repository.DBExecutor, address string) (*domain.Balance, error) {
	args := m.Called(ctx, q, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Balance), args.Error(1)
}

func (m *MockBalanceRepository) EnsureBalance(ctx context.Context, q repository.DBExecutor, address string, now time.Time) error {
	args := m.Called(ctx, q, address, now)
	return args.Error(0)
}

func (m *MockBalanceRepository) UpsertBalance(ctx context.Context, q repository.DBExecutor, address string, newBalance decimal.Decimal, now time.Time) error {
	args := m.Called(ctx, q, address, newBalance, now)
	return args.Error(0)
}

// MockAuditRepository is a mock implementation of repository.AuditRepository.
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Append(ctx context.Context, q repository.DBExecutor, entry *domain.AuditLogEntry) error {
	args := m.Called(ctx, q, entry)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByAddress(ctx context.Context, q repository.DBExecutor, address string, limit, offset int) ([]domain.AuditLogEntry, int64, error) {
	args := m.Called(ctx, q, address, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]domain.AuditLogEntry), args.Get(1).(int64), args.Error(2)
}

func (m *MockAuditRepository) ListChronological(ctx context.Context, q repository.DBExecutor, address string) ([]domain.AuditLogEntry, error) {
	args := m.Called(ctx, q, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AuditLogEntry), args.Error(1)
}

// MockDBBeginner is a mock implementation of db.DBTxBeginner.
type MockDBBeginner struct {
	mock.Mock
}

func (m *MockDBBeginner) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	args := m.Called(ctx, opts)
	return &sqlx.Tx{}, args.Error(1)
}

// MockTxController is a mock implementation of db.TxController.
// It also implicitly implements repository.DBExecutor for testing purposes
// by embedding MockDBExecutor.
type MockTxController struct {
	mock.Mock
	MockDBExecutor // Embed MockDBExecutor to satisfy repository.DBExecutor interface
}

func (m *MockTxController) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTxController) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// recordingCache is an in-process BalanceCache that records invalidations.
type recordingCache struct {
	entries     map[string]*domain.Balance
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[string]*domain.Balance{}}
}

func (c *recordingCache) Get(_ context.Context, address string) (*domain.Balance, bool) {
	b, ok := c.entries[address]
	return b, ok
}

func (c *recordingCache) Set(_ context.Context, balance *domain.Balance) {
	c.entries[balance.UserAddress] = balance
}

func (c *recordingCache) Invalidate(_ context.Context, address string) {
	delete(c.entries, address)
	c.invalidated = append(c.invalidated, address)
}

// recordingPublisher collects published entries.
type recordingPublisher struct {
	entries []*domain.AuditLogEntry
}

func (p *recordingPublisher) PublishBalanceChanged(_ context.Context, entry *domain.AuditLogEntry) {
	p.entries = append(p.entries, entry)
}

type fixture struct {
	ctx        context.Context
	balances   *MockBalanceRepository
	audit      *MockAuditRepository
	beginner   *MockDBBeginner
	executor   *MockDBExecutor
	tx         *MockTxController
	cache      *recordingCache
	publisher  *recordingPublisher
	service    LedgerService
	beginCalls int
}

func newFixture(beginErr error) *fixture {
	f := &fixture{
		ctx:       context.Background(),
		balances:  new(MockBalanceRepository),
		audit:     new(MockAuditRepository),
		beginner:  new(MockDBBeginner),
		executor:  new(MockDBExecutor),
		tx:        new(MockTxController),
		cache:     newRecordingCache(),
		publisher: &recordingPublisher{},
	}
	f.service = NewLedgerService(
		f.beginner,
		f.executor,
		f.balances,
		f.audit,
		func(ctx context.Context, dbConn db.DBTxBeginner) (db.TxController, error) {
			f.beginCalls++
			if beginErr != nil {
				return nil, beginErr
			}
			return f.tx, nil
		},
		func(tx db.TxController) error {
			return f.tx.Commit()
		},
		func(tx db.TxController) {
			_ = f.tx.Rollback()
		},
		WithCache(f.cache),
		WithPublisher(f.publisher),
	)
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	mock.AssertExpectationsForObjects(t, f.beginner, f.executor, f.tx, f.balances, f.audit)
}

func decimalEq(want decimal.Decimal) interface{} {
	return mock.MatchedBy(func(got decimal.Decimal) bool { return got.Equal(want) })
}

const addr = "0xaaa"

// TestCredit tests the Credit mutation procedure.
func TestCredit(t *testing.T) {
	amount := decimal.NewFromInt(100)

	t.Run("SuccessfulCredit", func(t *testing.T) {
		f := newFixture(nil)
		f.cache.entries[addr] = &domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(500)}

		f.tx.On("Commit").Return(nil).Once()
		f.tx.On("Rollback").Return(sql.ErrTxDone).Maybe() // Deferred rollback after commit

		f.balances.On("EnsureBalance", f.ctx, mock.Anything, addr, mock.AnythingOfType("time.Time")).Return(nil).Once()
		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(500)}, nil).Once()
		f.balances.On("UpsertBalance", f.ctx, mock.Anything, addr, decimalEq(decimal.NewFromInt(600)), mock.AnythingOfType("time.Time")).
			Return(nil).Once()
		f.audit.On("Append", f.ctx, mock.Anything, mock.MatchedBy(func(e *domain.AuditLogEntry) bool {
			return e.OperationType == domain.OperationDeposit &&
				e.BalanceBefore.Equal(decimal.NewFromInt(500)) &&
				e.BalanceAfter.Equal(decimal.NewFromInt(600)) &&
				e.CorrelatingID == "tx-1"
		})).Return(nil).Once()

		res, err := f.service.Credit(f.ctx, "0xAAA", amount, domain.OperationDeposit, "tx-1")

		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(600).Equal(res.NewBalance()))
		assert.Equal(t, addr, res.Entry.UserAddress, "address should be lower-cased")
		assert.True(t, res.Entry.CreatedAt.Equal(res.Balance.UpdatedAt), "one mutation, one timestamp")
		assert.Equal(t, []string{addr}, f.cache.invalidated, "cache must be invalidated after commit")
		require.Len(t, f.publisher.entries, 1)
		assert.Equal(t, res.Entry.ID, f.publisher.entries[0].ID)

		f.assertExpectations(t)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		f := newFixture(nil)

		for _, bad := range []decimal.Decimal{
			decimal.Zero,
			decimal.NewFromInt(-10),
			decimal.RequireFromString("0.0000000000000000001"),    // below the stored scale
			decimal.RequireFromString("1.0000000000000000001"),    // would be rounded on write
			decimal.RequireFromString("100000000000000000000000"), // overflows the column
		} {
			res, err := f.service.Credit(f.ctx, addr, bad, domain.OperationFaucet, "")
			assert.ErrorIs(t, err, util.ErrInvalidAmount, bad.String())
			assert.Nil(t, res)

			res, err = f.service.Debit(f.ctx, addr, bad, domain.OperationWithdrawal, "")
			assert.ErrorIs(t, err, util.ErrInvalidAmount, bad.String())
			assert.Nil(t, res)
		}

		// Ensure no transaction was begun (because it's an early return due to invalid input)
		assert.Equal(t, 0, f.beginCalls)
		f.tx.AssertNotCalled(t, "Commit")
		f.tx.AssertNotCalled(t, "Rollback")
		f.assertExpectations(t)
	})

	t.Run("DebitOperationRejected", func(t *testing.T) {
		f := newFixture(nil)

		res, err := f.service.Credit(f.ctx, addr, amount, domain.OperationBetPlaced, "")

		assert.ErrorIs(t, err, util.ErrInvalidInput)
		assert.Nil(t, res)
		assert.Equal(t, 0, f.beginCalls)
	})

	t.Run("EmptyAddress", func(t *testing.T) {
		f := newFixture(nil)

		_, err := f.service.Credit(f.ctx, "  ", amount, domain.OperationFaucet, "")

		assert.ErrorIs(t, err, util.ErrInvalidAddress)
		assert.Equal(t, 0, f.beginCalls)
	})

	t.Run("BeginFailsIsUnavailable", func(t *testing.T) {
		f := newFixture(errors.New("connection refused"))

		res, err := f.service.Credit(f.ctx, addr, amount, domain.OperationFaucet, "")

		assert.ErrorIs(t, err, util.ErrServiceUnavailable)
		assert.Nil(t, res)
		assert.Empty(t, f.cache.invalidated)
		assert.Empty(t, f.publisher.entries)
	})

	t.Run("AuditAppendFailureRollsBack", func(t *testing.T) {
		f := newFixture(nil)

		f.balances.On("EnsureBalance", f.ctx, mock.Anything, addr, mock.Anything).Return(nil).Once()
		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.Zero}, nil).Once()
		f.balances.On("UpsertBalance", f.ctx, mock.Anything, addr, decimalEq(amount), mock.Anything).Return(nil).Once()
		f.audit.On("Append", f.ctx, mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
		f.tx.On("Rollback").Return(nil).Once()

		res, err := f.service.Credit(f.ctx, addr, amount, domain.OperationFaucet, "")

		assert.ErrorIs(t, err, util.ErrServiceUnavailable)
		assert.Contains(t, err.Error(), "failed to append audit entry")
		assert.Nil(t, res)
		f.tx.AssertNotCalled(t, "Commit") // Ensure Commit was not called
		assert.Empty(t, f.publisher.entries)
		f.assertExpectations(t)
	})

	t.Run("BalanceOverflowRejected", func(t *testing.T) {
		f := newFixture(nil)

		f.balances.On("EnsureBalance", f.ctx, mock.Anything, addr, mock.Anything).Return(nil).Once()
		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.RequireFromString("99999999999999999999")}, nil).Once()
		f.tx.On("Rollback").Return(nil).Once()

		res, err := f.service.Credit(f.ctx, addr, decimal.NewFromInt(1), domain.OperationDeposit, "")

		assert.ErrorIs(t, err, util.ErrInvalidAmount)
		assert.NotErrorIs(t, err, util.ErrServiceUnavailable)
		assert.Nil(t, res)
		f.balances.AssertNotCalled(t, "UpsertBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.tx.AssertNotCalled(t, "Commit")
		f.assertExpectations(t)
	})

	t.Run("ContextDeadlineIsNotUnavailable", func(t *testing.T) {
		f := newFixture(context.DeadlineExceeded)

		_, err := f.service.Credit(f.ctx, addr, amount, domain.OperationFaucet, "")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, util.ErrServiceUnavailable)
	})
}

// TestDebit tests the Debit mutation procedure.
func TestDebit(t *testing.T) {
	t.Run("SuccessfulDebit", func(t *testing.T) {
		f := newFixture(nil)

		f.tx.On("Commit").Return(nil).Once()
		f.tx.On("Rollback").Return(sql.ErrTxDone).Maybe()
		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(1000)}, nil).Once()
		f.balances.On("UpsertBalance", f.ctx, mock.Anything, addr, decimalEq(decimal.NewFromInt(800)), mock.Anything).Return(nil).Once()
		f.audit.On("Append", f.ctx, mock.Anything, mock.MatchedBy(func(e *domain.AuditLogEntry) bool {
			return e.OperationType == domain.OperationBetPlaced && e.Amount.Equal(decimal.NewFromInt(200))
		})).Return(nil).Once()

		res, err := f.service.Debit(f.ctx, addr, decimal.NewFromInt(200), domain.OperationBetPlaced, "bet_7")

		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(800).Equal(res.NewBalance()))
		f.balances.AssertNotCalled(t, "EnsureBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		f := newFixture(nil)

		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(1300)}, nil).Once()
		f.tx.On("Rollback").Return(nil).Once()

		res, err := f.service.Debit(f.ctx, addr, decimal.NewFromInt(5000), domain.OperationBetPlaced, "")

		assert.ErrorIs(t, err, util.ErrInsufficientBalance)
		assert.Nil(t, res)
		f.balances.AssertNotCalled(t, "UpsertBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.audit.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
		f.tx.AssertNotCalled(t, "Commit")
		f.assertExpectations(t)
	})

	t.Run("UnknownAddressHasNothingToDebit", func(t *testing.T) {
		f := newFixture(nil)

		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).Return(nil, util.ErrNotFound).Once()
		f.tx.On("Rollback").Return(nil).Once()

		_, err := f.service.Debit(f.ctx, addr, decimal.NewFromInt(1), domain.OperationWithdrawal, "")

		assert.ErrorIs(t, err, util.ErrInsufficientBalance)
		f.tx.AssertNotCalled(t, "Commit")
		f.assertExpectations(t)
	})

	t.Run("StorageConstraintIsInsufficientBalance", func(t *testing.T) {
		f := newFixture(nil)

		// The application check passes on a stale read; the store's CHECK still refuses.
		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(50)}, nil).Once()
		f.balances.On("UpsertBalance", f.ctx, mock.Anything, addr, mock.Anything, mock.Anything).
			Return(util.ErrConstraintViolation).Once()
		f.tx.On("Rollback").Return(nil).Once()

		_, err := f.service.Debit(f.ctx, addr, decimal.NewFromInt(10), domain.OperationBetPlaced, "")

		assert.ErrorIs(t, err, util.ErrInsufficientBalance)
		f.audit.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
		f.tx.AssertNotCalled(t, "Commit")
		f.assertExpectations(t)
	})

	t.Run("CreditOperationRejected", func(t *testing.T) {
		f := newFixture(nil)

		_, err := f.service.Debit(f.ctx, addr, decimal.NewFromInt(10), domain.OperationFaucet, "")

		assert.ErrorIs(t, err, util.ErrInvalidInput)
		assert.Equal(t, 0, f.beginCalls)
	})
}

// TestCreditForPayout tests the payout specialization of Credit.
func TestCreditForPayout(t *testing.T) {
	t.Run("BetIDRequired", func(t *testing.T) {
		f := newFixture(nil)

		_, err := f.service.CreditForPayout(f.ctx, addr, decimal.NewFromInt(10), " ")

		assert.ErrorIs(t, err, util.ErrInvalidInput)
		assert.Equal(t, 0, f.beginCalls)
	})

	t.Run("DuplicatePayout", func(t *testing.T) {
		f := newFixture(nil)

		f.balances.On("EnsureBalance", f.ctx, mock.Anything, addr, mock.Anything).Return(nil).Once()
		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(800)}, nil).Once()
		f.balances.On("UpsertBalance", f.ctx, mock.Anything, addr, decimalEq(decimal.NewFromInt(1300)), mock.Anything).Return(nil).Once()
		f.audit.On("Append", f.ctx, mock.Anything, mock.MatchedBy(func(e *domain.AuditLogEntry) bool {
			return e.OperationType == domain.OperationBetWon && e.CorrelatingID == "bet_1"
		})).Return(util.ErrDuplicatePayout).Once()
		f.tx.On("Rollback").Return(nil).Once()

		res, err := f.service.CreditForPayout(f.ctx, addr, decimal.NewFromInt(500), "bet_1")

		assert.ErrorIs(t, err, util.ErrDuplicatePayout)
		assert.NotErrorIs(t, err, util.ErrServiceUnavailable)
		assert.Nil(t, res)
		f.tx.AssertNotCalled(t, "Commit")
		f.assertExpectations(t)
	})
}

// TestGetBalance tests balance reads and the advisory cache.
func TestGetBalance(t *testing.T) {
	t.Run("CacheHitSkipsStore", func(t *testing.T) {
		f := newFixture(nil)
		f.cache.entries[addr] = &domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(42)}

		b, err := f.service.GetBalance(f.ctx, addr)

		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(42).Equal(b.Balance))
		f.balances.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissFillsCache", func(t *testing.T) {
		f := newFixture(nil)
		stored := &domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(7)}
		f.balances.On("GetBalance", f.ctx, f.executor, addr).Return(stored, nil).Once()

		b, err := f.service.GetBalance(f.ctx, addr)

		require.NoError(t, err)
		assert.Equal(t, stored, b)
		assert.Equal(t, stored, f.cache.entries[addr])
		f.assertExpectations(t)
	})

	t.Run("NotFound", func(t *testing.T) {
		f := newFixture(nil)
		f.balances.On("GetBalance", f.ctx, f.executor, addr).Return(nil, util.ErrNotFound).Once()

		b, err := f.service.GetBalance(f.ctx, addr)

		assert.ErrorIs(t, err, util.ErrNotFound)
		assert.NotErrorIs(t, err, util.ErrServiceUnavailable)
		assert.Nil(t, b)
		assert.Empty(t, f.cache.entries)
	})

	t.Run("StoreDown", func(t *testing.T) {
		f := newFixture(nil)
		f.balances.On("GetBalance", f.ctx, f.executor, addr).Return(nil, errors.New("dial tcp: connection refused")).Once()

		_, err := f.service.GetBalance(f.ctx, addr)

		assert.ErrorIs(t, err, util.ErrServiceUnavailable)
		assert.NotErrorIs(t, err, util.ErrNotFound)
	})
}

// TestReconcile tests the audit replay against mocked history.
func TestReconcile(t *testing.T) {
	entry := func(op domain.OperationType, amount, before, after int64) domain.AuditLogEntry {
		return domain.AuditLogEntry{
			ID:            string(op),
			UserAddress:   addr,
			OperationType: op,
			Amount:        decimal.NewFromInt(amount),
			BalanceBefore: decimal.NewFromInt(before),
			BalanceAfter:  decimal.NewFromInt(after),
		}
	}

	t.Run("Consistent", func(t *testing.T) {
		f := newFixture(nil)
		f.tx.On("Rollback").Return(nil).Once()
		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(800)}, nil).Once()
		f.audit.On("ListChronological", f.ctx, mock.Anything, addr).Return([]domain.AuditLogEntry{
			entry(domain.OperationFaucet, 1000, 0, 1000),
			entry(domain.OperationBetPlaced, 200, 1000, 800),
		}, nil).Once()

		report, err := f.service.Reconcile(f.ctx, addr)

		require.NoError(t, err)
		assert.True(t, report.Consistent(), report.Problems)
		assert.Equal(t, 2, report.Entries)
		f.assertExpectations(t)
	})

	t.Run("BrokenChain", func(t *testing.T) {
		f := newFixture(nil)
		f.tx.On("Rollback").Return(nil).Once()
		f.balances.On("GetBalanceForUpdate", f.ctx, mock.Anything, addr).
			Return(&domain.Balance{UserAddress: addr, Balance: decimal.NewFromInt(900)}, nil).Once()
		f.audit.On("ListChronological", f.ctx, mock.Anything, addr).Return([]domain.AuditLogEntry{
			entry(domain.OperationFaucet, 1000, 0, 1000),
			entry(domain.OperationBetPlaced, 200, 1100, 800),
		}, nil).Once()

		report, err := f.service.Reconcile(f.ctx, addr)

		require.NoError(t, err)
		assert.False(t, report.Consistent())
		assert.Len(t, report.Problems, 3) // chain break, bad arithmetic, stored mismatch
	})
}
