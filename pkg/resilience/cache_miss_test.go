package resilience

import (
	"context"
	"testing"
	"time"

	"bank-recon/pkg/cache"
	"bank-recon/pkg/cache/memory"
	"bank-recon/pkg/cache/mock"
)

func aggressiveConfig(failures uint32) ResilientConfig {
	return ResilientConfig{
		Timeout: 100 * time.Millisecond,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				return counts.TotalFailures >= failures
			},
		},
	}
}

// Cache misses are normal answers and must not count as breaker failures.
func TestResilientLayer_CacheMissDoesNotTripCircuit(t *testing.T) {
	memCache := memory.NewMemoryCache(memory.MemoryCacheConfig{
		Name:    "test-cache-miss",
		MaxSize: 100,
	})

	rl := NewResilientLayer(memCache, aggressiveConfig(3))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := rl.Get(ctx, "recon:1:001:pending:missing")

		if cache.IsCircuitOpen(err) {
			t.Fatalf("Circuit breaker opened after %d cache misses", i+1)
		}
		if !cache.IsNotFound(err) {
			t.Errorf("Expected ErrKeyNotFound, got: %v", err)
		}
	}

	if err := rl.Set(ctx, "key1", []byte("value1"), time.Hour); err != nil {
		t.Fatalf("Set failed after cache misses: %v", err)
	}

	value, err := rl.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed after cache misses: %v", err)
	}
	if string(value) != "value1" {
		t.Errorf("Expected value1, got %s", value)
	}
}

func TestResilientLayer_RealErrorsStillTripCircuit(t *testing.T) {
	failing := mock.NewFailingLayer("always-failing", cache.ErrLayerUnavailable)

	rl := NewResilientLayer(failing, aggressiveConfig(5))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := rl.Get(ctx, "key1")

		if i < 5 {
			if !cache.IsUnavailable(err) {
				t.Errorf("Expected ErrLayerUnavailable, got: %v", err)
			}
		} else if !cache.IsCircuitOpen(err) {
			t.Errorf("Expected circuit to be open after %d failures, got: %v", i+1, err)
		}
	}

	if failing.GetCalls() != 5 {
		t.Errorf("Expected the open breaker to short-circuit, got %d calls", failing.GetCalls())
	}
}
