package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bank-recon/pkg/cache"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/metrics"
	"bank-recon/pkg/resilience"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultWarmTTL is the base TTL used when Get warms upper layers.
const DefaultWarmTTL = time.Hour

// ChainConfig configures a Chain.
type ChainConfig struct {
	// ResilientConfigs holds one config per layer. Missing entries get the
	// default config with a timeout based on layer position.
	ResilientConfigs []resilience.ResilientConfig

	// TTLStrategy maps the base TTL to a per-layer TTL. Default: uniform.
	TTLStrategy TTLStrategy

	// WarmTTL is the base TTL used by Get when warming upper layers.
	WarmTTL time.Duration

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// Hit is the result of a successful lookup.
type Hit struct {
	Value []byte
	// Layer is the index of the layer that answered.
	Layer int
}

// Chain manages multiple cache layers with automatic fallback and warm-up.
// Layers are ordered from fastest (L1) to slowest (LN).
type Chain struct {
	layers  []*resilience.ResilientLayer
	ttl     TTLStrategy
	warmTTL time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
	sf      singleflight.Group
}

// New creates a new chain of cache layers with default configuration.
// Layers should be ordered from fastest to slowest (L1 to LN).
// All layers are automatically wrapped with resilience protection.
func New(layers ...cache.CacheLayer) (*Chain, error) {
	return NewWithConfig(ChainConfig{}, layers...)
}

// NewWithConfig creates a chain using the given configuration.
// Returns an error if no layers are provided.
func NewWithConfig(config ChainConfig, layers ...cache.CacheLayer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}

	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}
	if config.TTLStrategy == nil {
		config.TTLStrategy = &UniformTTLStrategy{}
	}
	if config.WarmTTL <= 0 {
		config.WarmTTL = DefaultWarmTTL
	}

	resilientLayers := make([]*resilience.ResilientLayer, len(layers))
	for i, layer := range layers {
		rc := resilience.LayerConfig(i)
		if i < len(config.ResilientConfigs) {
			rc = config.ResilientConfigs[i]
		}
		resilientLayers[i] = resilience.NewResilientLayerWithMetrics(layer, rc, config.Metrics)
	}

	return &Chain{
		layers:  resilientLayers,
		ttl:     config.TTLStrategy,
		warmTTL: config.WarmTTL,
		metrics: config.Metrics,
		logger:  config.Logger.Named("chain"),
	}, nil
}

// Get retrieves a value from the chain and synchronously warms the layers
// above the one that answered. Concurrent Gets for the same key share one traversal.
func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		hit, err := c.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Warm(ctx, key, hit.Value, hit.Layer, c.warmTTL)
		return hit.Value, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Lookup traverses the layers in order and returns the first hit without
// warming anything. Layer failures are skipped; if every layer misses the
// last error is returned, which is cache.ErrKeyNotFound for a clean miss.
func (c *Chain) Lookup(ctx context.Context, key string) (Hit, error) {
	start := time.Now()
	var lastErr error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return Hit{}, err
		}

		value, err := layer.Get(ctx, key)
		if err != nil {
			if !cache.IsNotFound(err) {
				c.logger.Debug("layer skipped",
					zap.String("layer", layer.Name()),
					zap.String("key", key),
					zap.Error(err),
				)
			}
			lastErr = err
			continue
		}

		c.metrics.RecordChainGet(true, i, time.Since(start))
		return Hit{Value: value, Layer: i}, nil
	}

	c.metrics.RecordChainGet(false, -1, time.Since(start))
	if lastErr != nil {
		return Hit{}, lastErr
	}
	return Hit{}, cache.ErrKeyNotFound
}

// Warm writes value into every layer above hitIndex. Failures are logged,
// not returned: a cold upper layer only costs a deeper lookup.
func (c *Chain) Warm(ctx context.Context, key string, value []byte, hitIndex int, baseTTL time.Duration) {
	if hitIndex > len(c.layers) {
		hitIndex = len(c.layers)
	}
	for i := hitIndex - 1; i >= 0; i-- {
		ttl := c.ttl.GetTTL(i, len(c.layers), baseTTL)
		if err := c.layers[i].Set(ctx, key, value, ttl); err != nil {
			c.logger.Warn("warm-up failed",
				zap.String("layer", c.layers[i].Name()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// Set writes the value to all layers in the chain, each with the TTL the
// strategy assigns it. If any layer fails, the error is returned but other
// layers are still attempted.
func (c *Chain) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var lastErr error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := layer.Set(ctx, key, value, c.ttl.GetTTL(i, len(c.layers), ttl)); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Delete removes the key from all layers in the chain.
// If any layer fails, the error is returned but other layers are still attempted.
func (c *Chain) Delete(ctx context.Context, key string) error {
	var lastErr error

	for _, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := layer.Delete(ctx, key); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// DeletePrefix removes every key starting with prefix from all layers and
// returns the total number of keys removed. Deeper layers are cleared first.
func (c *Chain) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var lastErr error
	total := 0

	for i := len(c.layers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := c.layers[i].DeletePrefix(ctx, prefix)
		total += n
		if err != nil {
			c.logger.Error("prefix eviction failed",
				zap.String("layer", c.layers[i].Name()),
				zap.String("prefix", prefix),
				zap.Error(err),
			)
			lastErr = err
		}
	}

	return total, lastErr
}

// Close closes all layers in the chain.
// Returns the last error encountered, but attempts to close all layers.
func (c *Chain) Close() error {
	var lastErr error

	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// States reports the circuit breaker state of every layer by name.
func (c *Chain) States() map[string]metrics.CircuitState {
	states := make(map[string]metrics.CircuitState, len(c.layers))
	for _, layer := range c.layers {
		states[layer.Name()] = layer.State()
	}
	return states
}

// Layers returns a copy of the layers slice for inspection.
func (c *Chain) Layers() []cache.CacheLayer {
	layers := make([]cache.CacheLayer, len(c.layers))
	for i, l := range c.layers {
		layers[i] = l
	}
	return layers
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

// String returns a string representation of the chain.
func (c *Chain) String() string {
	if len(c.layers) == 0 {
		return "chain: empty"
	}

	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return fmt.Sprintf("chain(%d layers): %s", len(c.layers), strings.Join(names, " -> "))
}
