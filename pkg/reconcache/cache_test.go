package reconcache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	"bank-recon/pkg/cache/memory"
	"bank-recon/pkg/chain"
	"bank-recon/pkg/recon"
	store "bank-recon/pkg/store/memory"

	"github.com/shopspring/decimal"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	month = recon.Window{Start: jan1, End: jan1.Add(30 * 24 * time.Hour)}
	scope = recon.Scope{CompanyID: 1, BankID: 10}
	other = recon.Scope{CompanyID: 1, BankID: 100}
	bob   = audit.Actor{ID: "bob"}
)

type fixture struct {
	store *store.Store
	l1    *memory.MemoryCache
	l2    *memory.MemoryCache
	cache *Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.New()
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	l2 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L2"})
	c, err := chain.New(l1, l2)
	if err != nil {
		t.Fatalf("Expected chain, got %v", err)
	}
	t.Cleanup(func() { c.Close() })

	engine := recon.NewEngine(s.Recon(), recon.EngineConfig{})
	return &fixture{store: s, l1: l1, l2: l2, cache: New(engine, c, Config{})}
}

func (f *fixture) add(sc recon.Scope, dir bank.Direction, amount string, at time.Time) {
	f.store.AddSystemTransaction(recon.Transaction{
		CompanyID:  sc.CompanyID,
		BankID:     sc.BankID,
		Direction:  dir,
		Amount:     decimal.RequireFromString(amount),
		OccurredAt: at,
	})
}

func TestKeyLayout(t *testing.T) {
	c := New(nil, nil, Config{})

	key := c.Key(scope, OpPending, month)
	if !strings.HasPrefix(key, "recon:1:10:pending:") {
		t.Errorf("Expected recon:1:10:pending: prefix, got %s", key)
	}
	if !strings.HasPrefix(key, c.Prefix(scope)) {
		t.Errorf("Expected key %s under scope prefix %s", key, c.Prefix(scope))
	}
	if strings.HasPrefix(c.Key(other, OpPending, month), c.Prefix(scope)) {
		t.Error("Expected scope 1/100 outside the prefix of scope 1/10")
	}
}

func TestPending_SecondReadServedFromCache(t *testing.T) {
	f := newFixture(t)
	f.add(scope, bank.Credit, "10", jan1)
	ctx := context.Background()

	first, err := f.cache.Pending(ctx, scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := f.cache.Pending(ctx, scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if n := f.store.CallCount("ListTransactions"); n != 1 {
		t.Errorf("Expected 1 store read, got %d", n)
	}
	if len(first) != 1 || len(second) != 1 || first[0].ID != second[0].ID {
		t.Errorf("Expected identical results, got %v and %v", first, second)
	}
	if !first[0].Amount.Equal(second[0].Amount) {
		t.Errorf("Expected amount %s, got %s", first[0].Amount, second[0].Amount)
	}
}

func TestBalance_Cached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := f.cache.ReconciledBalance(ctx, scope, month)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if !got.IsZero() {
			t.Errorf("Expected zero balance, got %s", got)
		}
	}
	if n := f.store.CallCount("ListTransactions"); n != 1 {
		t.Errorf("Expected 1 store read, got %d", n)
	}
}

func TestStartAndProcess_InvalidateScope(t *testing.T) {
	f := newFixture(t)
	f.add(scope, bank.Credit, "50", jan1)
	f.add(scope, bank.Credit, "50", jan1.Add(24*time.Hour))
	f.add(other, bank.Credit, "1", jan1)
	ctx := context.Background()

	if _, err := f.cache.Pending(ctx, scope, month); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := f.cache.Pending(ctx, other, month); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	reads := f.store.CallCount("ListTransactions")

	r, err := f.cache.Start(ctx, bob, scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := f.l1.Get(ctx, f.cache.Key(scope, OpPending, month)); err == nil {
		t.Error("Expected L1 entry evicted by Start")
	}
	if _, err := f.l2.Get(ctx, f.cache.Key(scope, OpPending, month)); err == nil {
		t.Error("Expected L2 entry evicted by Start")
	}

	// Warm again, then Process must evict.
	if _, err := f.cache.Pending(ctx, scope, month); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// Process itself lists the run's transactions inside its unit of work.
	if _, err := f.cache.Process(ctx, bob, r.ID); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	pending, err := f.cache.Pending(ctx, scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected fresh read with nothing pending, got %d", len(pending))
	}
	if got := f.store.CallCount("ListTransactions") - reads; got != 3 {
		t.Errorf("Expected 3 more store reads, got %d", got)
	}

	// The sibling scope was never evicted.
	if _, err := f.l1.Get(ctx, f.cache.Key(other, OpPending, month)); err != nil {
		t.Errorf("Expected other scope still cached, got %v", err)
	}
}

func TestProcess_RejectedStillEvicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _ := f.cache.Start(ctx, bob, scope, month)
	if _, err := f.cache.Process(ctx, bob, r.ID); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := f.cache.List(ctx, scope, month); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err := f.cache.Process(ctx, bob, r.ID)
	if bank.KindOf(err) != bank.KindInvalidState {
		t.Fatalf("Expected invalid_state, got %v", err)
	}
	if _, err := f.l1.Get(ctx, f.cache.Key(scope, OpList, month)); err == nil {
		t.Error("Expected list entry evicted")
	}
}

func TestInvalidRead_NeverCached(t *testing.T) {
	f := newFixture(t)
	inverted := recon.Window{Start: month.End, End: month.Start}

	_, err := f.cache.Pending(context.Background(), scope, inverted)
	if bank.KindOf(err) != bank.KindInvalidData {
		t.Errorf("Expected invalid_data, got %v", err)
	}
	if n := f.store.CallCount("ListTransactions"); n != 0 {
		t.Errorf("Expected no store read, got %d", n)
	}
}

// blockingService holds Pending until released so an invalidation can land
// while a load is in flight.
type blockingService struct {
	recon.Service
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingService) Pending(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Transaction, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.entered)
		<-b.release
	}
	return []recon.Transaction{{ID: 1}}, nil
}

func TestLoadRacingInvalidation_NotStored(t *testing.T) {
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	c, _ := chain.New(l1)
	defer c.Close()

	svc := &blockingService{entered: make(chan struct{}), release: make(chan struct{})}
	rc := New(svc, c, Config{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := rc.Pending(ctx, scope, month)
		done <- err
	}()

	<-svc.entered
	if err := rc.InvalidateScope(ctx, scope); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	close(svc.release)
	if err := <-done; err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := l1.Get(ctx, rc.Key(scope, OpPending, month)); err == nil {
		t.Error("Expected the stale load to be dropped")
	}

	// The next read loads and stores normally.
	if _, err := rc.Pending(ctx, scope, month); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := l1.Get(ctx, rc.Key(scope, OpPending, month)); err != nil {
		t.Errorf("Expected entry stored, got %v", err)
	}
}

// cancelAwareService fails Pending when its context is done by the time it
// is released.
type cancelAwareService struct {
	blockingService
}

func (b *cancelAwareService) Pending(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Transaction, error) {
	txs, _ := b.blockingService.Pending(ctx, scope, w)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func TestSharedLoad_SurvivesFirstCallerCancel(t *testing.T) {
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	c, _ := chain.New(l1)
	defer c.Close()

	svc := &cancelAwareService{blockingService{entered: make(chan struct{}), release: make(chan struct{})}}
	rc := New(svc, c, Config{})

	first, cancel := context.WithCancel(context.Background())
	type result struct {
		txs []recon.Transaction
		err error
	}
	a := make(chan result, 1)
	go func() {
		txs, err := rc.Pending(first, scope, month)
		a <- result{txs, err}
	}()
	<-svc.entered

	b := make(chan result, 1)
	go func() {
		txs, err := rc.Pending(context.Background(), scope, month)
		b <- result{txs, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(svc.release)

	ra, rb := <-a, <-b
	if rb.err != nil {
		t.Fatalf("Expected joined caller to get the result, got %v", rb.err)
	}
	if ra.err != nil {
		t.Fatalf("Expected shared fetch to ignore the first caller's cancel, got %v", ra.err)
	}
	if len(ra.txs) != 1 || len(rb.txs) != 1 {
		t.Fatalf("Expected one transaction each, got %d and %d", len(ra.txs), len(rb.txs))
	}

	ra.txs[0].ID = 99
	if rb.txs[0].ID != 1 {
		t.Errorf("Expected callers to hold separate slices, got id %d", rb.txs[0].ID)
	}
}
