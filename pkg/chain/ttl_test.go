package chain

import (
	"testing"
	"time"
)

func TestUniformTTLStrategy(t *testing.T) {
	strategy := &UniformTTLStrategy{}
	baseTTL := 1 * time.Hour

	for i := 0; i < 3; i++ {
		ttl := strategy.GetTTL(i, 3, baseTTL)
		if ttl != baseTTL {
			t.Errorf("Layer %d: expected %v, got %v", i, baseTTL, ttl)
		}
	}
}

func TestCappedTTLStrategy(t *testing.T) {
	strategy := &CappedTTLStrategy{Caps: []time.Duration{time.Minute, 0}}

	tests := []struct {
		layer    int
		base     time.Duration
		expected time.Duration
	}{
		{0, 30 * time.Minute, time.Minute},
		{0, 30 * time.Second, 30 * time.Second},
		{1, 30 * time.Minute, 30 * time.Minute},
		{2, time.Hour, time.Hour},
		{-1, time.Hour, time.Hour},
	}

	for _, tt := range tests {
		if ttl := strategy.GetTTL(tt.layer, 3, tt.base); ttl != tt.expected {
			t.Errorf("Layer %d base %v: expected %v, got %v", tt.layer, tt.base, tt.expected, ttl)
		}
	}
}

func TestReplicaTTLStrategy(t *testing.T) {
	strategy := ReplicaTTLStrategy(2 * time.Minute)

	// Balance reads (5m) and run listings (1h) both stay at most 2m in memory.
	if ttl := strategy.GetTTL(0, 2, 5*time.Minute); ttl != 2*time.Minute {
		t.Errorf("Expected memory layer capped at 2m, got %v", ttl)
	}
	if ttl := strategy.GetTTL(1, 2, time.Hour); ttl != time.Hour {
		t.Errorf("Expected shared layer to keep 1h, got %v", ttl)
	}
}
