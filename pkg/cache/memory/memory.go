// Package memory is the process-local L1 layer of the reconciliation cache.
package memory

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"bank-recon/pkg/cache"
)

// MemoryCacheConfig configures a MemoryCache.
type MemoryCacheConfig struct {
	Name string
	// MaxSize bounds the number of entries. 0 is unlimited.
	MaxSize int
	// DefaultTTL applies when Set is called with ttl <= 0. Default 1h.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are swept. Default 1m.
	CleanupInterval time.Duration
}

// MemoryCache is a size-bounded LRU map with per-entry expiry. Values are
// copied on the way in and out, so callers may reuse their buffers.
type MemoryCache struct {
	config MemoryCacheConfig

	mu    sync.Mutex
	items map[string]*list.Element
	// lru orders entries from most (front) to least (back) recently used.
	lru *list.List

	evictions   uint64
	expirations uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

var _ cache.CacheLayer = (*MemoryCache)(nil)

// NewMemoryCache starts the expiry sweeper; Close stops it.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	c := &MemoryCache{
		config: config,
		items:  make(map[string]*list.Element),
		lru:    list.New(),
		stop:   make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweep()

	return c
}

func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Get returns a copy of the value and marks the entry as recently used.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.remove(el)
		c.expirations++
		return nil, cache.ErrKeyNotFound
	}
	c.lru.MoveToFront(el)

	return clone(e.value), nil
}

// Set stores a copy of value. Inserting a new key into a full cache evicts
// the least recently used entry; overwriting never evicts.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = clone(value)
		e.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		return nil
	}

	if c.config.MaxSize > 0 && c.lru.Len() >= c.config.MaxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.remove(oldest)
			c.evictions++
		}
	}
	c.items[key] = c.lru.PushFront(&entry{key: key, value: clone(value), expiresAt: expiresAt})

	return nil
}

// Delete is a no-op for absent keys.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	c.mu.Unlock()

	return nil
}

// DeletePrefix removes every key starting with prefix and reports how many
// were removed.
func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, cache.ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.remove(el)
			removed++
		}
	}
	return removed, nil
}

// Close stops the sweeper and drops every entry.
func (c *MemoryCache) Close() error {
	close(c.stop)
	c.wg.Wait()

	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()

	return nil
}

// remove must be called with mu held.
func (c *MemoryCache) remove(el *list.Element) {
	c.lru.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

func (c *MemoryCache) sweep() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired(time.Now())
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) removeExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.remove(el)
			c.expirations++
		}
		el = prev
	}
}

// MemoryCacheStats is a point-in-time view of the cache.
type MemoryCacheStats struct {
	Size int
	// Capacity is MaxSize, or -1 when unlimited.
	Capacity    int
	Evictions   uint64
	Expirations uint64
}

func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	capacity := c.config.MaxSize
	if capacity == 0 {
		capacity = -1
	}
	return MemoryCacheStats{
		Size:        c.lru.Len(),
		Capacity:    capacity,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
