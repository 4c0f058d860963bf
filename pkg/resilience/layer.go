package resilience

import (
	"context"
	"errors"
	"time"

	"bank-recon/pkg/cache"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientLayer bounds every call on a cache layer with a timeout and a
// circuit breaker. Failures come back as *cache.LayerError; misses come back
// as cache.ErrKeyNotFound and never count against the breaker.
type ResilientLayer struct {
	layer   cache.CacheLayer
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

var _ cache.CacheLayer = (*ResilientLayer)(nil)

func NewResilientLayer(layer cache.CacheLayer, config ResilientConfig) *ResilientLayer {
	return NewResilientLayerWithMetrics(layer, config, nil)
}

// NewResilientLayerWithMetrics reports per-operation latency and breaker
// transitions to collector under the layer's name.
func NewResilientLayerWithMetrics(layer cache.CacheLayer, config ResilientConfig, collector metrics.MetricsCollector) *ResilientLayer {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	logger := logging.Global().Named("cache").With(zap.String("layer", layer.Name()))

	breaker := config.CircuitBreakerConfig
	if breaker.IsSuccessful == nil {
		breaker.IsSuccessful = func(err error) bool {
			return err == nil || cache.IsNotFound(err)
		}
	}

	logger.Debug("resilient layer initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Duration("open_timeout", breaker.Timeout),
	)

	return &ResilientLayer{
		layer:   layer,
		cb:      NewBreaker(layer.Name(), breaker, collector, logger),
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}
}

func (rl *ResilientLayer) Name() string {
	return rl.layer.Name()
}

// State is the breaker state, reported by the health endpoint.
func (rl *ResilientLayer) State() metrics.CircuitState {
	return circuitState(rl.cb.State())
}

func (rl *ResilientLayer) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var value []byte
	err := rl.run(ctx, "get", key, func(ctx context.Context) (err error) {
		value, err = rl.layer.Get(ctx, key)
		return err
	})
	rl.metrics.RecordGet(rl.Name(), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (rl *ResilientLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := rl.run(ctx, "set", key, func(ctx context.Context) error {
		return rl.layer.Set(ctx, key, value, ttl)
	})
	rl.metrics.RecordSet(rl.Name(), err == nil, time.Since(start))
	return err
}

func (rl *ResilientLayer) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := rl.run(ctx, "delete", key, func(ctx context.Context) error {
		return rl.layer.Delete(ctx, key)
	})
	rl.metrics.RecordDelete(rl.Name(), err == nil, time.Since(start))
	return err
}

// DeletePrefix records the number of removed keys, or -1 on failure.
func (rl *ResilientLayer) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	start := time.Now()
	removed := 0
	err := rl.run(ctx, "delete_prefix", prefix, func(ctx context.Context) (err error) {
		removed, err = rl.layer.DeletePrefix(ctx, prefix)
		return err
	})
	if err != nil {
		rl.metrics.RecordInvalidation(rl.Name(), -1, time.Since(start))
		return removed, err
	}
	rl.metrics.RecordInvalidation(rl.Name(), removed, time.Since(start))
	return removed, nil
}

func (rl *ResilientLayer) Close() error {
	return rl.layer.Close()
}

// run executes fn through the breaker under the layer timeout. Breaker
// rejections become cache.ErrCircuitOpen and expired deadlines become
// cache.ErrTimeout, both wrapped in a *cache.LayerError.
func (rl *ResilientLayer) run(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	start := time.Now()
	if rl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rl.timeout)
		defer cancel()
	}

	_, err := rl.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	switch {
	case err == nil || cache.IsNotFound(err):
		return err
	case IsBreakerRejection(err):
		err = cache.ErrCircuitOpen
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = cache.ErrTimeout
	}

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("key", key),
		zap.String("reason", cache.Reason(err)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if cache.IsCircuitOpen(err) || cache.IsTimeout(err) {
		rl.logger.Warn("cache call degraded", fields...)
	} else {
		rl.logger.Error("cache call failed", append(fields, zap.Error(err))...)
	}
	return cache.NewLayerError(rl.Name(), op, key, err)
}
