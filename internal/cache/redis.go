// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"house-ledger/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings.
type Config struct {
	Addr          string
	Password      string
	DB            int
	TTL           time.Duration // lifetime of a cached balance
	EventsChannel string        // pub/sub channel for committed mutations
}

// Redis is an advisory balance cache and balance-changed publisher. Every
// operation is best effort: failures are logged, never returned, so the
// durable store stays the only source of truth.
type Redis struct {
	client  redis.UniversalClient
	ttl     time.Duration
	channel string
	logger  *zap.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config, logger *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Duration("ttl", cfg.TTL))

	return NewRedisWithClient(rdb, cfg, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, cfg Config, logger *zap.Logger) *Redis {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	channel := cfg.EventsChannel
	if channel == "" {
		channel = "ledger:balance.changed"
	}
	return &Redis{client: client, ttl: ttl, channel: channel, logger: logger}
}

func balanceKey(address string) string {
	return "ledger:balance:" + address
}

// Get returns a cached balance.
func (r *Redis) Get(ctx context.Context, address string) (*domain.Balance, bool) {
	raw, err := r.client.Get(ctx, balanceKey(address)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Failed to read cached balance", zap.String("user_address", address), zap.Error(err))
		}
		return nil, false
	}
	var balance domain.Balance
	if err := json.Unmarshal(raw, &balance); err != nil {
		r.logger.Warn("Discarding malformed cached balance", zap.String("user_address", address), zap.Error(err))
		r.Invalidate(ctx, address)
		return nil, false
	}
	return &balance, true
}

// Set caches balance for the configured TTL.
func (r *Redis) Set(ctx context.Context, balance *domain.Balance) {
	raw, err := json.Marshal(balance)
	if err != nil {
		r.logger.Warn("Failed to encode balance for cache", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, balanceKey(balance.UserAddress), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("Failed to cache balance", zap.String("user_address", balance.UserAddress), zap.Error(err))
	}
}

// Invalidate drops the cached balance of address.
func (r *Redis) Invalidate(ctx context.Context, address string) {
	if err := r.client.Del(ctx, balanceKey(address)).Err(); err != nil {
		r.logger.Warn("Failed to invalidate cached balance", zap.String("user_address", address), zap.Error(err))
	}
}

// BalanceChanged is the message published after each committed mutation.
type BalanceChanged struct {
	AuditID       string               `json:"audit_id"`
	UserAddress   string               `json:"user_address"`
	OperationType domain.OperationType `json:"operation_type"`
	Amount        string               `json:"amount"`
	BalanceBefore string               `json:"balance_before"`
	BalanceAfter  string               `json:"balance_after"`
	CorrelatingID string               `json:"correlating_id,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// PublishBalanceChanged publishes entry on the events channel.
func (r *Redis) PublishBalanceChanged(ctx context.Context, entry *domain.AuditLogEntry) {
	msg, err := json.Marshal(BalanceChanged{
		AuditID:       entry.ID,
		UserAddress:   entry.UserAddress,
		OperationType: entry.OperationType,
		Amount:        entry.Amount.String(),
		BalanceBefore: entry.BalanceBefore.String(),
		BalanceAfter:  entry.BalanceAfter.String(),
		CorrelatingID: entry.CorrelatingID,
		CreatedAt:     entry.CreatedAt,
	})
	if err != nil {
		r.logger.Warn("Failed to encode balance event", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		r.logger.Warn("Failed to publish balance event",
			zap.String("channel", r.channel),
			zap.String("audit_id", entry.ID),
			zap.Error(err))
	}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
