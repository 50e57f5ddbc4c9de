package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var _ domain.Cache = (*LRU)(nil)
var _ domain.Cache = (*TwoPhase)(nil)

func TestLRU(t *testing.T) {
	ctx := context.Background()
	tenant := "tenant-001"

	t.Run("roundtrip", func(t *testing.T) {
		c := NewLRU(16)
		if err := c.Set(ctx, tenant, "history:cust-001", []byte(`[{"id":"tx-1"}]`), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}

		got, err := c.Get(ctx, tenant, "history:cust-001")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != `[{"id":"tx-1"}]` {
			t.Errorf("got %q", got)
		}
	})

	t.Run("miss returns nil without error", func(t *testing.T) {
		c := NewLRU(16)
		got, err := c.Get(ctx, tenant, "history:nobody")
		if err != nil || got != nil {
			t.Errorf("miss: got %v, err %v", got, err)
		}
	})

	t.Run("overwrite keeps latest payload", func(t *testing.T) {
		c := NewLRU(16)
		c.Set(ctx, tenant, "history:cust-001", []byte("stale"), time.Minute)
		c.Set(ctx, tenant, "history:cust-001", []byte("fresh"), time.Minute)

		got, _ := c.Get(ctx, tenant, "history:cust-001")
		if string(got) != "fresh" {
			t.Errorf("got %q, want fresh", got)
		}
		if c.Len() != 1 {
			t.Errorf("Len = %d after overwrite, want 1", c.Len())
		}
	})

	t.Run("expired entries read as misses", func(t *testing.T) {
		c := NewLRU(16)
		c.Set(ctx, tenant, "history:cust-001", []byte("x"), 10*time.Millisecond)

		if got, _ := c.Get(ctx, tenant, "history:cust-001"); got == nil {
			t.Fatal("entry should be live before its deadline")
		}
		time.Sleep(20 * time.Millisecond)
		if got, _ := c.Get(ctx, tenant, "history:cust-001"); got != nil {
			t.Errorf("expired entry still served: %q", got)
		}
	})

	t.Run("evicts coldest entry at capacity", func(t *testing.T) {
		c := NewLRU(3)
		c.Set(ctx, tenant, "a", []byte("1"), time.Minute)
		c.Set(ctx, tenant, "b", []byte("2"), time.Minute)
		c.Set(ctx, tenant, "c", []byte("3"), time.Minute)

		// Touching a makes b the coldest.
		c.Get(ctx, tenant, "a")
		c.Set(ctx, tenant, "d", []byte("4"), time.Minute)

		if got, _ := c.Get(ctx, tenant, "b"); got != nil {
			t.Error("b should have been evicted")
		}
		if got, _ := c.Get(ctx, tenant, "a"); got == nil {
			t.Error("a was touched and should survive")
		}
		if c.Len() != 3 {
			t.Errorf("Len = %d, want 3", c.Len())
		}
	})

	t.Run("expired entries evicted before live ones", func(t *testing.T) {
		c := NewLRU(3)
		c.Set(ctx, tenant, "short", []byte("1"), time.Millisecond)
		c.Set(ctx, tenant, "keep-1", []byte("2"), time.Minute)
		c.Set(ctx, tenant, "keep-2", []byte("3"), time.Minute)

		time.Sleep(5 * time.Millisecond)

		// keep-1 is now the coldest live entry, but the lapsed "short"
		// should go first.
		c.Set(ctx, tenant, "keep-3", []byte("4"), time.Minute)
		if got, _ := c.Get(ctx, tenant, "keep-1"); got == nil {
			t.Error("live entry evicted while an expired one was available")
		}
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		c := NewLRU(16)
		c.Set(ctx, "tenant-001", "history:cust-001", []byte("one"), time.Minute)
		c.Set(ctx, "tenant-002", "history:cust-001", []byte("two"), time.Minute)

		got1, _ := c.Get(ctx, "tenant-001", "history:cust-001")
		got2, _ := c.Get(ctx, "tenant-002", "history:cust-001")
		if string(got1) != "one" || string(got2) != "two" {
			t.Errorf("cross-tenant bleed: %q / %q", got1, got2)
		}
	})

	t.Run("rejects empty tenant", func(t *testing.T) {
		c := NewLRU(16)
		if err := c.Set(ctx, "", "k", []byte("v"), time.Minute); err == nil {
			t.Error("Set accepted an empty tenant")
		}
		if _, err := c.Get(ctx, "", "k"); err == nil {
			t.Error("Get accepted an empty tenant")
		}
		if err := c.DeletePrefix(ctx, "", "k"); err == nil {
			t.Error("DeletePrefix accepted an empty tenant")
		}
	})

	t.Run("delete prefix clears a customer's snapshots", func(t *testing.T) {
		c := NewLRU(32)
		for i := 0; i < 4; i++ {
			key := fmt.Sprintf("history:cust-001:s:%d", 1700000000+i*3600)
			c.Set(ctx, tenant, key, []byte("snap"), time.Minute)
		}
		c.Set(ctx, tenant, "history:cust-002", []byte("other customer"), time.Minute)
		c.Set(ctx, "tenant-002", "history:cust-001", []byte("other tenant"), time.Minute)

		if err := c.DeletePrefix(ctx, tenant, "history:cust-001"); err != nil {
			t.Fatalf("DeletePrefix: %v", err)
		}

		for i := 0; i < 4; i++ {
			key := fmt.Sprintf("history:cust-001:s:%d", 1700000000+i*3600)
			if got, _ := c.Get(ctx, tenant, key); got != nil {
				t.Errorf("%s survived prefix eviction", key)
			}
		}
		if got, _ := c.Get(ctx, tenant, "history:cust-002"); got == nil {
			t.Error("unrelated customer was evicted")
		}
		if got, _ := c.Get(ctx, "tenant-002", "history:cust-001"); got == nil {
			t.Error("other tenant's snapshot was evicted")
		}
	})

	t.Run("counter windows", func(t *testing.T) {
		c := NewLRU(16)
		span := 100 * time.Millisecond

		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, tenant, "intake", span)
			if err != nil {
				t.Fatalf("IncrementCounter: %v", err)
			}
			if got != want {
				t.Errorf("count = %d, want %d", got, want)
			}
		}

		time.Sleep(150 * time.Millisecond)
		if got, _ := c.IncrementCounter(ctx, tenant, "intake", span); got != 1 {
			t.Errorf("count after window lapse = %d, want 1", got)
		}
	})

	t.Run("counters are tenant scoped", func(t *testing.T) {
		c := NewLRU(16)
		c.IncrementCounter(ctx, "tenant-001", "intake", time.Minute)
		c.IncrementCounter(ctx, "tenant-001", "intake", time.Minute)

		if got, _ := c.IncrementCounter(ctx, "tenant-002", "intake", time.Minute); got != 1 {
			t.Errorf("tenant-002 count = %d, want its own window", got)
		}
	})

	t.Run("close empties the cache", func(t *testing.T) {
		c := NewLRU(16)
		c.Set(ctx, tenant, "k", []byte("v"), time.Minute)
		if err := c.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if got, _ := c.Get(ctx, tenant, "k"); got != nil {
			t.Error("entry survived Close")
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRU); !ok {
			t.Errorf("New(memory) = %T, want *LRU", c)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("New accepted an unknown cache type")
		}
	})
}
