package bloom

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bank-recon/pkg/cache"
	"bank-recon/pkg/cache/memory"
	"bank-recon/pkg/cache/mock"
)

func newBase() *memory.MemoryCache {
	return memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "test", MaxSize: 1000})
}

func TestLayer_BasicOperations(t *testing.T) {
	l := New(newBase(), Config{ExpectedItems: 100})
	defer l.Close()

	ctx := context.Background()
	if err := l.Set(ctx, "recon:1:1:pending:x", []byte("value1"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := l.Get(ctx, "recon:1:1:pending:x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("Expected value1, got %s", val)
	}
}

func TestLayer_RejectionSkipsWrappedLayer(t *testing.T) {
	inner := mock.NewMockLayerWithDefaults("inner")
	l := New(inner, Config{ExpectedItems: 100})
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		l.Set(ctx, fmt.Sprintf("recon:%d:1:list:w", i), []byte("v"), time.Hour)
	}

	_, err := l.Get(ctx, "recon:99:1:list:w")
	if err != cache.ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
	if inner.GetCalls() != 0 {
		t.Errorf("Rejected key must not reach the wrapped layer, got %d calls", inner.GetCalls())
	}

	stats := l.Stats()
	if stats.Rejected != 1 || stats.Queries != 1 || stats.RejectionRate() != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestLayer_DeletePrefixFallsThroughToMiss(t *testing.T) {
	l := New(newBase(), Config{ExpectedItems: 100})
	defer l.Close()

	ctx := context.Background()
	l.Set(ctx, "recon:7:1:pending:a", []byte("v"), time.Hour)
	l.Set(ctx, "recon:7:1:list:a", []byte("v"), time.Hour)

	removed, err := l.DeletePrefix(ctx, "recon:7:1:")
	if err != nil || removed != 2 {
		t.Fatalf("DeletePrefix = %d, %v", removed, err)
	}

	if _, err := l.Get(ctx, "recon:7:1:pending:a"); !cache.IsNotFound(err) {
		t.Errorf("Expected miss after prefix delete, got %v", err)
	}
	if l.Stats().FalsePositives != 1 {
		t.Errorf("Expected the stale filter bit to count as a false positive")
	}
}

func TestLayer_RotationKeepsPreviousGeneration(t *testing.T) {
	inner := mock.NewMockLayerWithDefaults("inner")
	l := New(inner, Config{ExpectedItems: 4})
	defer l.Close()

	ctx := context.Background()
	key := func(i int) string { return fmt.Sprintf("recon:1:1:balance:%d", i) }

	// Generation 1: keys 0-3; key 4 rotates; generation 2: keys 4-7.
	for i := 0; i < 8; i++ {
		l.Set(ctx, key(i), []byte("v"), time.Hour)
	}
	if s := l.Stats(); s.Rotations != 1 || s.Keys != 4 {
		t.Fatalf("Expected 1 rotation and 4 current keys, got %+v", s)
	}

	l.Get(ctx, key(0))
	if inner.GetCalls() != 1 {
		t.Errorf("Expected key from the previous generation to reach the wrapped layer")
	}

	// Key 8 rotates again; generation 1 is dropped.
	l.Set(ctx, key(8), []byte("v"), time.Hour)
	before := inner.GetCalls()
	if _, err := l.Get(ctx, key(0)); err != cache.ErrKeyNotFound {
		t.Errorf("Expected key two generations old to be rejected, got %v", err)
	}
	if inner.GetCalls() != before {
		t.Errorf("Expected rejection without reaching the wrapped layer")
	}
	l.Get(ctx, key(5))
	if inner.GetCalls() != before+1 {
		t.Errorf("Expected key from the previous generation to reach the wrapped layer")
	}
}

func TestLayer_RewritingKnownKeyDoesNotRotate(t *testing.T) {
	l := New(newBase(), Config{ExpectedItems: 2})
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		l.Set(ctx, "recon:1:1:pending:same", []byte("v"), time.Hour)
	}
	if s := l.Stats(); s.Rotations != 0 || s.Keys != 1 {
		t.Errorf("Expected one key and no rotation, got %+v", s)
	}
}

func TestLayer_Name(t *testing.T) {
	l := New(mock.NewMockLayer("L2-Redis"), Config{})
	if l.Name() != "bloom(L2-Redis)" {
		t.Errorf("Unexpected name %s", l.Name())
	}
}

func TestLayer_ContextCancellation(t *testing.T) {
	l := New(newBase(), Config{ExpectedItems: 100})
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Get(ctx, "k"); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := l.Set(ctx, "k", []byte("v"), time.Hour); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
