// Package bloom guards a shared cache layer with a local bloom filter.
package bloom

import (
	"context"
	"sync"
	"time"

	"bank-recon/pkg/cache"

	"github.com/bits-and-blooms/bloom/v3"
)

// Config sizes the filter.
type Config struct {
	// ExpectedItems is the number of keys one generation holds before the
	// filter rotates. Default 10000.
	ExpectedItems uint
	// FalsePositiveRate is the target rate per generation. Default 0.01.
	FalsePositiveRate float64
}

// Layer skips lookups on the wrapped layer for keys this process never wrote.
// A negative answer is only a local miss: the chain then loads from the store,
// so keys written by other replicas cost a reload, never a stale read.
//
// Reconciliation keys embed their window, so the key space only grows. The
// filter keeps two generations: once the current one holds ExpectedItems
// keys it becomes the previous one and a fresh generation starts. A key is
// known while either generation contains it.
type Layer struct {
	layer  cache.CacheLayer
	config Config

	mu       sync.RWMutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	added    uint

	queries        uint64
	rejected       uint64
	falsePositives uint64
	rotations      uint64
}

var _ cache.CacheLayer = (*Layer)(nil)

// New wraps layer.
func New(layer cache.CacheLayer, config Config) *Layer {
	if config.ExpectedItems == 0 {
		config.ExpectedItems = 10000
	}
	if config.FalsePositiveRate <= 0 || config.FalsePositiveRate >= 1 {
		config.FalsePositiveRate = 0.01
	}
	return &Layer{
		layer:   layer,
		config:  config,
		current: bloom.NewWithEstimates(config.ExpectedItems, config.FalsePositiveRate),
	}
}

// Name returns the name of the underlying cache layer.
func (l *Layer) Name() string {
	return "bloom(" + l.layer.Name() + ")"
}

func (l *Layer) known(key string) bool {
	if l.current.TestString(key) {
		return true
	}
	return l.previous != nil && l.previous.TestString(key)
}

// Get consults the filter before the wrapped layer.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.queries++
	if !l.known(key) {
		l.rejected++
		l.mu.Unlock()
		return nil, cache.ErrKeyNotFound
	}
	l.mu.Unlock()

	value, err := l.layer.Get(ctx, key)
	if cache.IsNotFound(err) {
		l.mu.Lock()
		l.falsePositives++
		l.mu.Unlock()
	}
	return value, err
}

// Set records the key and stores the value.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if !l.current.TestString(key) {
		if l.added >= l.config.ExpectedItems {
			l.rotate()
		}
		l.current.AddString(key)
		l.added++
	}
	l.mu.Unlock()

	return l.layer.Set(ctx, key, value, ttl)
}

// rotate must be called with mu held.
func (l *Layer) rotate() {
	l.previous = l.current
	l.current = bloom.NewWithEstimates(l.config.ExpectedItems, l.config.FalsePositiveRate)
	l.added = 0
	l.rotations++
}

// Delete forwards to the wrapped layer. The filter keeps the key; a later
// Get falls through to a miss.
func (l *Layer) Delete(ctx context.Context, key string) error {
	return l.layer.Delete(ctx, key)
}

// DeletePrefix forwards to the wrapped layer.
func (l *Layer) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return l.layer.DeletePrefix(ctx, prefix)
}

// Close closes the underlying cache layer.
func (l *Layer) Close() error {
	return l.layer.Close()
}

// Stats reports filter effectiveness.
type Stats struct {
	Queries        uint64
	Rejected       uint64
	FalsePositives uint64
	Rotations      uint64
	// Keys is the number of keys in the current generation.
	Keys uint
}

// RejectionRate is the share of lookups answered by the filter alone.
func (s Stats) RejectionRate() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.Queries)
}

// Stats returns a snapshot of the counters.
func (l *Layer) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Queries:        l.queries,
		Rejected:       l.rejected,
		FalsePositives: l.falsePositives,
		Rotations:      l.rotations,
		Keys:           l.added,
	}
}
