package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/confira/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for tenant configuration reads. Administrators edit rules between
// resolutions, so the TTL stays short; everything transactional passes
// straight through to the primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

func aliasesKey(tenant string) string   { return fmt.Sprintf("cfg:aliases:%s", tenant) }
func rulesKey(tenant string) string     { return fmt.Sprintf("cfg:rules:%s", tenant) }
func templatesKey(cp string) string     { return fmt.Sprintf("cfg:templates:%s", cp) }
func lockKey(tenant, trade string) string { return fmt.Sprintf("lock:resolve:%s:%s", tenant, trade) }

// readThrough fetches a cached JSON list or falls back to load and caches
// the result. Cache failures degrade to the primary silently.
func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() ([]T, error)) ([]T, error) {
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var out []T
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(out); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return out, nil
}

func (s *CachedStore) ListAliases(ctx context.Context, tenant string) ([]model.CounterpartyAlias, error) {
	return readThrough(ctx, s, aliasesKey(tenant), func() ([]model.CounterpartyAlias, error) {
		return s.Store.ListAliases(ctx, tenant)
	})
}

func (s *CachedStore) ListRules(ctx context.Context, tenant string) ([]model.SettlementRule, error) {
	return readThrough(ctx, s, rulesKey(tenant), func() ([]model.SettlementRule, error) {
		return s.Store.ListRules(ctx, tenant)
	})
}

func (s *CachedStore) ListTemplates(ctx context.Context, counterpartyID string) ([]model.SettlementTemplate, error) {
	return readThrough(ctx, s, templatesKey(counterpartyID), func() ([]model.SettlementTemplate, error) {
		return s.Store.ListTemplates(ctx, counterpartyID)
	})
}

// RedisLocker implements TradeLocker with SET NX, serializing re-triggers for
// the same trade across engine instances. The TTL bounds how long a crashed
// holder can block the trade.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLocker creates a distributed per-trade locker.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// AcquireTradeLock takes the lock or fails fast with ErrTradeLockHeld.
func (l *RedisLocker) AcquireTradeLock(ctx context.Context, tenant, tradeID string) (func(), error) {
	key := lockKey(tenant, tradeID)
	ok, err := l.rdb.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire trade lock: %w", err)
	}
	if !ok {
		return nil, ErrTradeLockHeld
	}
	release := func() {
		// Best effort; the TTL reclaims the lock if this never runs.
		l.rdb.Del(context.Background(), key)
	}
	return release, nil
}
