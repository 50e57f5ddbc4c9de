// Package cache backs the history provider's snapshot store and the
// intake counters.
package cache

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrTenantRequired guards every cache operation; an unscoped key could
// bleed one tenant's history into another's investigation.
var ErrTenantRequired = errors.New("cache: tenant id is required")

// LRU is an in-process cache with per-entry TTL and windowed counters.
// It is the default backing and the local layer of the two-phase cache.
type LRU struct {
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	recency *list.List // front = most recently touched
	windows map[string]window
}

type record struct {
	key      string
	payload  []byte
	deadline time.Time
}

type window struct {
	count int64
	reset time.Time
}

// NewLRU creates a cache holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRU{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
		windows:  make(map[string]window),
	}
}

func (c *LRU) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[scope(tenantID, key)]
	if !ok {
		return nil, nil
	}
	rec := elem.Value.(*record)
	if !rec.deadline.After(time.Now()) {
		c.drop(elem)
		return nil, nil
	}
	c.recency.MoveToFront(elem)
	return rec.payload, nil
}

func (c *LRU) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	scoped := scope(tenantID, key)
	deadline := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[scoped]; ok {
		rec := elem.Value.(*record)
		rec.payload = value
		rec.deadline = deadline
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[scoped] = c.recency.PushFront(&record{
		key:      scoped,
		payload:  value,
		deadline: deadline,
	})
	c.shrink()
	return nil
}

// DeletePrefix evicts every entry whose key starts with prefix. The map
// scan is linear; snapshot eviction is rare next to the read path.
func (c *LRU) DeletePrefix(ctx context.Context, tenantID string, prefix string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	scoped := scope(tenantID, prefix)

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.entries {
		if strings.HasPrefix(key, scoped) {
			c.drop(elem)
		}
	}
	return nil
}

// IncrementCounter bumps the window counter, opening a fresh window when
// the previous one has lapsed.
func (c *LRU) IncrementCounter(ctx context.Context, tenantID string, key string, span time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}

	scoped := scope(tenantID, "counter/"+key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.windows[scoped]
	if !w.reset.After(now) {
		w = window{reset: now.Add(span)}
	}
	w.count++
	c.windows[scoped] = w
	return w.count, nil
}

func (c *LRU) Ping(ctx context.Context) error {
	return nil
}

func (c *LRU) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency = list.New()
	c.windows = make(map[string]window)
	return nil
}

// Len reports the live entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// shrink walks from the cold end, clearing expired entries first and
// then evicting by recency until the cache fits.
func (c *LRU) shrink() {
	now := time.Now()
	for elem := c.recency.Back(); elem != nil && len(c.entries) > c.capacity; {
		prev := elem.Prev()
		if !elem.Value.(*record).deadline.After(now) {
			c.drop(elem)
		}
		elem = prev
	}
	for len(c.entries) > c.capacity {
		c.drop(c.recency.Back())
	}
}

func (c *LRU) drop(elem *list.Element) {
	if elem == nil {
		return
	}
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*record).key)
}

func scope(tenantID, key string) string {
	return tenantID + "/" + key
}
