package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New builds the cache the config asks for. "memory" is the in-process
// default; "redis" serves multi-node deployments, optionally fronted by
// the LRU when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRU(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := NewRedis(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTwoPhase(NewLRU(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil

	default:
		return nil, fmt.Errorf("cache: unknown type %q", cfg.Type)
	}
}

// TwoPhase layers the in-process LRU in front of redis. Reads try the
// local copy and fall through; redis hits are promoted locally with a
// short TTL so a node's hot customers stay cheap without going stale.
type TwoPhase struct {
	local    *LRU
	remote   *Redis
	localTTL time.Duration
}

// NewTwoPhase wires the local layer in front of the remote one.
func NewTwoPhase(local *LRU, remote *Redis, localTTL time.Duration) *TwoPhase {
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	return &TwoPhase{local: local, remote: remote, localTTL: localTTL}
}

func (c *TwoPhase) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, tenantID, key, val, c.localTTL)
	return val, nil
}

func (c *TwoPhase) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	localTTL := c.localTTL
	if ttl < localTTL {
		localTTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, localTTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// DeletePrefix evicts from both layers so an intake on this node is
// visible everywhere at once.
func (c *TwoPhase) DeletePrefix(ctx context.Context, tenantID string, prefix string) error {
	return errors.Join(
		c.local.DeletePrefix(ctx, tenantID, prefix),
		c.remote.DeletePrefix(ctx, tenantID, prefix),
	)
}

// IncrementCounter always counts remotely; a local window would let each
// node spend the whole intake budget on its own.
func (c *TwoPhase) IncrementCounter(ctx context.Context, tenantID string, key string, span time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, span)
}

func (c *TwoPhase) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("local layer: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("remote layer: %w", err)
	}
	return nil
}

func (c *TwoPhase) Close() error {
	return errors.Join(c.local.Close(), c.remote.Close())
}
