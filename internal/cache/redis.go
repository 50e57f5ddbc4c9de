package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Redis backs the cache with a shared instance so every node in a
// deployment reads the same snapshots and counts against the same
// intake windows.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and verifies the instance is reachable.
func NewRedis(cfg domain.CacheConfig) (*Redis, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis %s unreachable: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

func (c *Redis) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	val, err := c.client.Get(ctx, c.scope(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (c *Redis) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	return c.client.Set(ctx, c.scope(tenantID, key), value, ttl).Err()
}

// DeletePrefix scans for the prefix and removes matches in batches, so
// eviction never blocks the instance the way KEYS would.
func (c *Redis) DeletePrefix(ctx context.Context, tenantID string, prefix string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	iter := c.client.Scan(ctx, 0, c.scope(tenantID, prefix)+"*", 256).Iterator()
	batch := make([]string, 0, 128)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

// IncrementCounter bumps the counter and pins the window TTL on first
// touch. ExpireNX leaves an existing deadline alone, so racing
// increments cannot stretch the window.
func (c *Redis) IncrementCounter(ctx context.Context, tenantID string, key string, span time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}

	scoped := c.scope(tenantID, "counter/"+key)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, scoped)
	pipe.ExpireNX(ctx, scoped, span)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) scope(tenantID, key string) string {
	return "kestrel:" + tenantID + ":" + key
}
