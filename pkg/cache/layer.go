package cache

import (
	"context"
	"time"
)

// CacheLayer defines the interface that all cache layer implementations must satisfy.
// Values are opaque byte slices; callers own the encoding.
type CacheLayer interface {
	// Get retrieves a value from the cache by key.
	// Returns ErrKeyNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the specified key and time-to-live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache by key.
	// Returns nil if the key was deleted or didn't exist.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and reports how many
	// keys were removed. Used to evict a whole reconciliation scope at once.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Name returns the identifier for this cache layer (e.g., "L1-Memory", "L2-Redis").
	// Used for logging, metrics, and debugging.
	Name() string

	// Close releases any resources held by the cache layer.
	Close() error
}
