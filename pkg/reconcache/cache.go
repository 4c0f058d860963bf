// Package reconcache serves reconciliation reads from a cache chain and
// evicts a whole company/bank scope whenever its data changes.
package reconcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/cache"
	"bank-recon/pkg/chain"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/recon"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Operation names used in keys.
const (
	OpPending    = "pending"
	OpReconciled = "reconciled"
	OpList       = "list"
	OpBalance    = "balance"
)

const keyTimeLayout = "20060102T150405.000000000Z"

// TTLs are the lifetimes of each cached read.
type TTLs struct {
	Pending    time.Duration
	Reconciled time.Duration
	List       time.Duration
	Balance    time.Duration
}

// DefaultTTLs returns 30m for transaction listings, 1h for run listings and
// 5m for the balance.
func DefaultTTLs() TTLs {
	return TTLs{
		Pending:    30 * time.Minute,
		Reconciled: 30 * time.Minute,
		List:       time.Hour,
		Balance:    5 * time.Minute,
	}
}

// Config configures a Cache.
type Config struct {
	TTLs   TTLs
	Logger *logging.Logger
}

// Cache decorates a recon.Service. Keys are laid out as
// recon:{company}:{bank}:{op}:{start}:{end}, so a scope is a key prefix.
type Cache struct {
	next   recon.Service
	chain  *chain.Chain
	keys   *cache.KeyPattern
	ttl    TTLs
	logger *logging.Logger
	sf     singleflight.Group

	// gens counts invalidations per scope. A load only stores its result if
	// the scope's generation did not move while it ran.
	mu   sync.Mutex
	gens map[recon.Scope]uint64
}

var _ recon.Service = (*Cache)(nil)

// New wraps next with a cache over c.
func New(next recon.Service, c *chain.Chain, config Config) *Cache {
	if config.TTLs == (TTLs{}) {
		config.TTLs = DefaultTTLs()
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}
	return &Cache{
		next:   next,
		chain:  c,
		keys:   cache.NewKeyPattern("recon", ":"),
		ttl:    config.TTLs,
		logger: config.Logger.Named("reconcache"),
		gens:   make(map[recon.Scope]uint64),
	}
}

// Key returns the cache key of op over scope and w.
func (c *Cache) Key(scope recon.Scope, op string, w recon.Window) string {
	return c.keys.Build(
		strconv.FormatInt(scope.CompanyID, 10),
		strconv.FormatInt(scope.BankID, 10),
		op,
		w.Start.UTC().Format(keyTimeLayout),
		w.End.UTC().Format(keyTimeLayout),
	)
}

// Prefix returns the key prefix shared by every read of scope.
func (c *Cache) Prefix(scope recon.Scope) string {
	return c.keys.Prefix(
		strconv.FormatInt(scope.CompanyID, 10),
		strconv.FormatInt(scope.BankID, 10),
	)
}

// InvalidateScope evicts every cached read of scope from every layer.
func (c *Cache) InvalidateScope(ctx context.Context, scope recon.Scope) error {
	c.mu.Lock()
	c.gens[scope]++
	c.mu.Unlock()

	removed, err := c.chain.DeletePrefix(ctx, c.Prefix(scope))
	if err != nil {
		c.logger.Error("scope invalidation incomplete",
			zap.Stringer("scope", scope),
			zap.Int("removed", removed),
			zap.Error(err),
		)
		return fmt.Errorf("invalidate %s: %w", scope, err)
	}
	c.logger.Debug("scope invalidated", zap.Stringer("scope", scope), zap.Int("removed", removed))
	return nil
}

func (c *Cache) generation(scope recon.Scope) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[scope]
}

// store writes value unless scope was invalidated since gen was read. The
// lock is held across the write so an invalidation either precedes the
// check or evicts what was written.
func (c *Cache) store(ctx context.Context, scope recon.Scope, gen uint64, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[scope] != gen {
		c.logger.Debug("stale load dropped", zap.String("key", key))
		return
	}
	if err := c.chain.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
}

func load[T any](ctx context.Context, c *Cache, scope recon.Scope, op string, w recon.Window, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	key := c.Key(scope, op, w)

	hit, err := c.chain.Lookup(ctx, key)
	if err == nil {
		var v T
		if err := json.Unmarshal(hit.Value, &v); err == nil {
			c.chain.Warm(ctx, key, hit.Value, hit.Layer, ttl)
			return v, nil
		}
		c.logger.Warn("undecodable cache entry", zap.String("key", key))
	} else if !cache.IsNotFound(err) {
		c.logger.Debug("cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	gen := c.generation(scope)
	res, err, shared := c.sf.Do(key+"#"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		// Joined callers must not inherit the first caller's cancellation.
		ctx := context.WithoutCancel(ctx)
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
			return loaded[T]{value: v}, nil
		}
		c.store(ctx, scope, gen, key, data, ttl)
		return loaded[T]{value: v, data: data}, nil
	})
	if err != nil {
		return zero, err
	}

	l := res.(loaded[T])
	if shared && l.data != nil {
		// Each joined caller decodes its own copy.
		var v T
		if err := json.Unmarshal(l.data, &v); err == nil {
			return v, nil
		}
	}
	return l.value, nil
}

// loaded is one shared fetch result with its encoded form.
type loaded[T any] struct {
	value T
	data  []byte
}

// Start opens a run and evicts the scope.
func (c *Cache) Start(ctx context.Context, actor audit.Actor, scope recon.Scope, w recon.Window) (*recon.Reconciliation, error) {
	r, err := c.next.Start(ctx, actor, scope, w)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, r.Scope())
	return r, nil
}

// Process runs the match and evicts the run's scope, whatever the outcome.
func (c *Cache) Process(ctx context.Context, actor audit.Actor, id int64) (*recon.Reconciliation, error) {
	r, err := c.next.Process(ctx, actor, id)
	if err != nil {
		if run, getErr := c.next.Get(ctx, id); getErr == nil {
			c.evict(ctx, run.Scope())
		}
		return nil, err
	}
	c.evict(ctx, r.Scope())
	return r, nil
}

// The write already committed; a failed eviction is logged by InvalidateScope.
func (c *Cache) evict(ctx context.Context, scope recon.Scope) {
	_ = c.InvalidateScope(ctx, scope)
}

// Get is not cached.
func (c *Cache) Get(ctx context.Context, id int64) (*recon.Reconciliation, error) {
	return c.next.Get(ctx, id)
}

func (c *Cache) List(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Reconciliation, error) {
	if err := validate(scope, w); err != nil {
		return nil, err
	}
	return load(ctx, c, scope, OpList, w, c.ttl.List, func(ctx context.Context) ([]recon.Reconciliation, error) {
		return c.next.List(ctx, scope, w)
	})
}

func (c *Cache) Pending(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Transaction, error) {
	if err := validate(scope, w); err != nil {
		return nil, err
	}
	return load(ctx, c, scope, OpPending, w, c.ttl.Pending, func(ctx context.Context) ([]recon.Transaction, error) {
		return c.next.Pending(ctx, scope, w)
	})
}

func (c *Cache) Reconciled(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Transaction, error) {
	if err := validate(scope, w); err != nil {
		return nil, err
	}
	return load(ctx, c, scope, OpReconciled, w, c.ttl.Reconciled, func(ctx context.Context) ([]recon.Transaction, error) {
		return c.next.Reconciled(ctx, scope, w)
	})
}

func (c *Cache) ReconciledBalance(ctx context.Context, scope recon.Scope, w recon.Window) (decimal.Decimal, error) {
	if err := validate(scope, w); err != nil {
		return decimal.Zero, err
	}
	return load(ctx, c, scope, OpBalance, w, c.ttl.Balance, func(ctx context.Context) (decimal.Decimal, error) {
		return c.next.ReconciledBalance(ctx, scope, w)
	})
}

// Invalid input never reaches the chain.
func validate(scope recon.Scope, w recon.Window) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return w.Validate()
}
