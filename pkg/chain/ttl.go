package chain

import "time"

// TTLStrategy determines TTL for each layer in the chain.
type TTLStrategy interface {
	// GetTTL returns the TTL for layer layerIndex of a chain with layerCount layers.
	GetTTL(layerIndex, layerCount int, baseTTL time.Duration) time.Duration
}

// UniformTTLStrategy uses the same TTL for all layers.
type UniformTTLStrategy struct{}

// GetTTL returns the base TTL for all layers.
func (s *UniformTTLStrategy) GetTTL(layerIndex, layerCount int, baseTTL time.Duration) time.Duration {
	return baseTTL
}

// CappedTTLStrategy bounds how long the first layers keep an entry.
// Scope invalidation only reaches this process's memory layer and the shared
// layers, so other replicas' memory copies must expire on their own.
type CappedTTLStrategy struct {
	// Caps holds the ceiling per layer index; zero means no cap.
	Caps []time.Duration
}

// GetTTL returns min(baseTTL, cap) for capped layers.
func (s *CappedTTLStrategy) GetTTL(layerIndex, layerCount int, baseTTL time.Duration) time.Duration {
	if layerIndex >= 0 && layerIndex < len(s.Caps) {
		if c := s.Caps[layerIndex]; c > 0 && c < baseTTL {
			return c
		}
	}
	return baseTTL
}

// ReplicaTTLStrategy caps the in-process layer at staleness, the longest a
// replica may serve a read another replica has invalidated.
func ReplicaTTLStrategy(staleness time.Duration) TTLStrategy {
	return &CappedTTLStrategy{Caps: []time.Duration{staleness}}
}
