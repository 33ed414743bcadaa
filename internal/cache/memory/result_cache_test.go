package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

func samplePositions() []domain.Position {
	return []domain.Position{{
		Protocol:       domain.ProtocolAave,
		Network:        domain.NetworkEthereum,
		UserAddress:    "0xabc",
		Collateral:     domain.StringPtr("1000"),
		Debt:           domain.StringPtr("500"),
		HealthFactor:   "2",
		BorrowedAssets: []domain.BorrowedAsset{},
		Timestamp:      1700000000,
	}}
}

func TestSetGetExpire(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(0)

	if err := c.Set(ctx, "k", samplePositions(), 100*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get immediately = %v, %v", ok, err)
	}
	if len(got) != 1 || got[0].UserAddress != "0xabc" {
		t.Errorf("Get = %+v", got)
	}

	time.Sleep(150 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry should be absent after ttl")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on read, Len = %d", c.Len())
	}
}

func TestNoSlidingExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c := NewResultCache(time.Minute)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "k", samplePositions(), 0)

	now = now.Add(40 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry should be present before ttl")
	}
	now = now.Add(20 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry should be present at exactly expiresAt")
	}
	now = now.Add(time.Nanosecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("read must not extend ttl")
	}
}

func TestExpiredEntryStaysUntilRead(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c := NewResultCache(time.Second)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "a", samplePositions(), 0)
	now = now.Add(time.Hour)
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1 before any read", c.Len())
	}
}

func TestEmptySequenceIsPresent(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(0)
	_ = c.Set(ctx, "k", nil, 0)

	got, ok, _ := c.Get(ctx, "k")
	if !ok {
		t.Fatal("empty result should be cached")
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Get = %#v, want empty non-nil slice", got)
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(0)
	_ = c.Set(ctx, "k", samplePositions(), 0)
	_ = c.Invalidate(ctx, "k")
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry should be gone after Invalidate")
	}
}

func TestReturnedSliceIsIsolated(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(0)
	_ = c.Set(ctx, "k", samplePositions(), 0)

	got, _, _ := c.Get(ctx, "k")
	got[0].HealthFactor = "mutated"

	again, _, _ := c.Get(ctx, "k")
	if again[0].HealthFactor != "2" {
		t.Error("mutating a returned slice changed the cached entry")
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, key, samplePositions(), 0)
				_, _, _ = c.Get(ctx, key)
				if j%10 == 0 {
					_ = c.Invalidate(ctx, key)
				}
			}
		}(i)
	}
	wg.Wait()
}
