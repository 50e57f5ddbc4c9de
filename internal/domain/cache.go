package domain

import (
	"context"
	"time"
)

// Cache stores serialized history snapshots and short-lived intake
// counters. Every key is scoped to a tenant; one tenant's history must
// never surface in another tenant's investigation.
type Cache interface {
	// Get returns the cached value, or nil when the key is absent or
	// has expired.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores value under key for at most ttl.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// DeletePrefix evicts every key starting with prefix. Snapshot keys
	// encode the request window, so intake surfaces fresh history by
	// evicting the customer's whole prefix instead of tracking keys.
	DeletePrefix(ctx context.Context, tenantID string, prefix string) error

	// IncrementCounter bumps a windowed counter and returns the new
	// value. The window opens at the first increment and the counter
	// resets when it lapses.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache backing.
type CacheConfig struct {
	// Type selects the implementation: "memory" or "redis".
	Type string

	// In-process LRU settings; also the local layer when two-phase
	// caching is enabled.
	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase fronts redis with the LRU: reads try the local
	// copy and fall through, writes land in both.
	EnableTwoPhase bool
}
