package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bank-recon/pkg/cache"
)

func newTestCache(maxSize int) *MemoryCache {
	return NewMemoryCache(MemoryCacheConfig{
		Name:            "test",
		MaxSize:         maxSize,
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Minute,
	})
}

func TestMemoryCache_GetSet(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()

	if _, err := c.Get(ctx, "nonexistent"); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	if err := c.Set(ctx, "key1", []byte("value1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "value1" {
		t.Errorf("Expected 'value1', got %s", value)
	}
}

func TestMemoryCache_ValuesAreCopied(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()
	buf := []byte("original")
	c.Set(ctx, "k", buf, 0)
	buf[0] = 'X'

	got, _ := c.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("Stored value changed through caller slice: %s", got)
	}

	got[0] = 'Y'
	again, _ := c.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("Stored value changed through returned slice: %s", again)
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "key1", []byte("value1"), 0)

	if err := c.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "key1"); !cache.IsNotFound(err) {
		t.Errorf("Expected miss after delete, got %v", err)
	}
	if err := c.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Deleting a missing key should succeed, got %v", err)
	}
}

func TestMemoryCache_DeletePrefix(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()
	keys := []string{
		"recon:7:1:pending:a",
		"recon:7:1:list:a",
		"recon:7:12:pending:a",
		"recon:8:1:pending:a",
	}
	for _, k := range keys {
		c.Set(ctx, k, []byte("v"), 0)
	}

	removed, err := c.DeletePrefix(ctx, "recon:7:1:")
	if err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 keys removed, got %d", removed)
	}
	for _, k := range keys[2:] {
		if _, err := c.Get(ctx, k); err != nil {
			t.Errorf("Key %s of another scope should survive, got %v", k, err)
		}
	}

	if _, err := c.DeletePrefix(ctx, ""); err == nil {
		t.Error("Empty prefix must be rejected")
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{
		Name:            "test",
		DefaultTTL:      time.Hour,
		CleanupInterval: 10 * time.Millisecond,
	})
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "short", []byte("v"), 30*time.Millisecond)

	if _, err := c.Get(ctx, "short"); err != nil {
		t.Fatalf("Expected hit before expiry, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if _, err := c.Get(ctx, "short"); !cache.IsNotFound(err) {
		t.Errorf("Expected miss after expiry, got %v", err)
	}
}

func TestMemoryCache_LRU(t *testing.T) {
	c := newTestCache(2)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), 0)
	c.Set(ctx, "b", []byte("2"), 0)

	// touch a so b becomes least recently used
	c.Get(ctx, "a")

	c.Set(ctx, "c", []byte("3"), 0)

	if _, err := c.Get(ctx, "b"); !cache.IsNotFound(err) {
		t.Error("Expected b to be evicted")
	}
	if _, err := c.Get(ctx, "a"); err != nil {
		t.Error("Expected a to survive")
	}
	stats := c.Stats()
	if stats.Size != 2 || stats.Evictions != 1 {
		t.Errorf("Expected size 2 and 1 eviction, got %+v", stats)
	}
}

func TestMemoryCache_RemoveExpired(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "recon:1:1:pending:a", []byte("1"), time.Minute)
	c.Set(ctx, "recon:1:1:pending:b", []byte("2"), time.Hour)

	c.removeExpired(time.Now().Add(2 * time.Minute))

	if _, err := c.Get(ctx, "recon:1:1:pending:a"); !cache.IsNotFound(err) {
		t.Error("Expected a to be swept")
	}
	stats := c.Stats()
	if stats.Size != 1 || stats.Expirations != 1 {
		t.Errorf("Expected 1 entry and 1 expiration, got %+v", stats)
	}
}

func TestMemoryCache_OverwriteDoesNotEvict(t *testing.T) {
	c := newTestCache(2)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), 0)
	c.Set(ctx, "b", []byte("2"), 0)
	c.Set(ctx, "a", []byte("3"), 0)

	if _, err := c.Get(ctx, "b"); err != nil {
		t.Error("Overwriting an existing key must not evict another one")
	}
}

func TestMemoryCache_Concurrency(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("recon:1:1:k%d", i)
			c.Set(ctx, key, []byte("v"), 0)
			c.Get(ctx, key)
			if i%10 == 0 {
				c.DeletePrefix(ctx, "recon:1:1:")
			}
		}(i)
	}

	wg.Wait()
}

func TestMemoryCache_KeyValidation(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()
	invalid := []string{"", "has space", "tab\there", strings.Repeat("k", 251)}

	for _, key := range invalid {
		if err := c.Set(ctx, key, []byte("v"), 0); err == nil {
			t.Errorf("Expected Set(%q) to fail", key)
		}
		if _, err := c.Get(ctx, key); err == nil {
			t.Errorf("Expected Get(%q) to fail", key)
		}
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestCache(0)
	defer c.Close()

	c.Set(context.Background(), "a", []byte("1"), 0)

	stats := c.Stats()
	if stats.Size != 1 {
		t.Errorf("Expected size 1, got %d", stats.Size)
	}
	if stats.Capacity != -1 {
		t.Errorf("Expected unlimited capacity, got %d", stats.Capacity)
	}
	if c.Name() != "test" {
		t.Errorf("Expected name 'test', got %s", c.Name())
	}
}

func BenchmarkMemoryCache_Get(b *testing.B) {
	c := newTestCache(0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "bench", []byte("value"), 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(ctx, "bench")
	}
}
