package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const balanceKeyPrefix = "balance:v1:"

// ErrBalanceNotCached indicates the account has never been synced.
var ErrBalanceNotCached = errors.New("balance not cached")

// CachedBalance is the derived balance snapshot for an account. It is
// recomputed wholesale on every sync, never patched incrementally, so a
// stale snapshot is still self-consistent.
type CachedBalance struct {
	AccountID     string    `json:"accountId"`
	AssetCode     string    `json:"assetCode"`
	AssetScale    int32     `json:"assetScale"`
	BalanceAtomic int64     `json:"balanceAtomic"`
	BalanceHuman  string    `json:"balanceHuman"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BalanceCache stores one balance snapshot per account.
type BalanceCache interface {
	Put(ctx context.Context, balance CachedBalance) error
	Get(ctx context.Context, accountID string) (CachedBalance, error)
}

// RedisBalanceCache keeps balance snapshots as JSON documents in Redis.
type RedisBalanceCache struct {
	cache *redis.Client
}

// NewRedisBalanceCache builds a Redis-backed balance cache.
func NewRedisBalanceCache(cache *redis.Client) *RedisBalanceCache {
	return &RedisBalanceCache{cache: cache}
}

// Put overwrites the account's snapshot.
func (c *RedisBalanceCache) Put(ctx context.Context, balance CachedBalance) error {
	payload, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("encode balance: %w", err)
	}
	if err := c.cache.Set(ctx, balanceKeyPrefix+balance.AccountID, payload, 0).Err(); err != nil {
		return fmt.Errorf("store balance: %w", err)
	}
	return nil
}

// Get loads the account's snapshot.
func (c *RedisBalanceCache) Get(ctx context.Context, accountID string) (CachedBalance, error) {
	raw, err := c.cache.Get(ctx, balanceKeyPrefix+accountID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CachedBalance{}, fmt.Errorf("%w: account %s", ErrBalanceNotCached, accountID)
		}
		return CachedBalance{}, fmt.Errorf("load balance: %w", err)
	}
	var balance CachedBalance
	if err := json.Unmarshal([]byte(raw), &balance); err != nil {
		return CachedBalance{}, fmt.Errorf("decode balance: %w", err)
	}
	return balance, nil
}

type memoryBalanceCache struct {
	mu      sync.RWMutex
	storage map[string]CachedBalance
}

// NewMemoryBalanceCache constructs an in-memory balance cache for tests.
func NewMemoryBalanceCache() BalanceCache {
	return &memoryBalanceCache{storage: make(map[string]CachedBalance)}
}

func (c *memoryBalanceCache) Put(_ context.Context, balance CachedBalance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage[balance.AccountID] = balance
	return nil
}

func (c *memoryBalanceCache) Get(_ context.Context, accountID string) (CachedBalance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	balance, ok := c.storage[accountID]
	if !ok {
		return CachedBalance{}, fmt.Errorf("%w: account %s", ErrBalanceNotCached, accountID)
	}
	return balance, nil
}
