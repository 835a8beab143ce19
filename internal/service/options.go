// internal/service/options.go
package service

import (
	"context"

	"house-ledger/internal/domain"

	"go.uber.org/zap"
)

// BalanceCache is an advisory read cache. It is never authoritative: mutation
// procedures invalidate an address after every commit.
type BalanceCache interface {
	Get(ctx context.Context, address string) (*domain.Balance, bool)
	Set(ctx context.Context, balance *domain.Balance)
	Invalidate(ctx context.Context, address string)
}

// EventPublisher announces committed balance changes. Best effort.
type EventPublisher interface {
	PublishBalanceChanged(ctx context.Context, entry *domain.AuditLogEntry)
}

// Option configures the ledger service.
type Option func(*ledgerService)

// WithCache sets the advisory balance cache.
func WithCache(c BalanceCache) Option {
	return func(s *ledgerService) { s.cache = c }
}

// WithPublisher sets the publisher for committed mutations.
func WithPublisher(p EventPublisher) Option {
	return func(s *ledgerService) { s.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *ledgerService) { s.logger = l }
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*domain.Balance, bool) { return nil, false }
func (noopCache) Set(context.Context, *domain.Balance)                {}
func (noopCache) Invalidate(context.Context, string)                  {}

type noopPublisher struct{}

func (noopPublisher) PublishBalanceChanged(context.Context, *domain.AuditLogEntry) {}
