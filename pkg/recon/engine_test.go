package recon_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	metricsmem "bank-recon/pkg/metrics/memory"
	"bank-recon/pkg/recon"
	"bank-recon/pkg/store/memory"

	"github.com/shopspring/decimal"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	scope = recon.Scope{CompanyID: 7, BankID: 341}
	month = recon.Window{Start: jan1, End: jan31}
	alice = audit.Actor{ID: "alice", Name: "Alice"}
	fixed = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	store   *memory.Store
	metrics *metricsmem.MemoryCollector
	engine  *recon.Engine
}

func newFixture() *fixture {
	store := memory.New()
	mc := metricsmem.NewMemoryCollector()
	engine := recon.NewEngine(store.Recon(), recon.EngineConfig{
		Audit:   store,
		Metrics: mc,
		Clock:   func() time.Time { return fixed },
	})
	return &fixture{store: store, metrics: mc, engine: engine}
}

func (f *fixture) add(dir bank.Direction, amount string, at time.Time, ext string) recon.Transaction {
	return f.store.AddSystemTransaction(recon.Transaction{
		CompanyID:  scope.CompanyID,
		BankID:     scope.BankID,
		Direction:  dir,
		Amount:     decimal.RequireFromString(amount),
		OccurredAt: at,
		ExternalID: ext,
	})
}

func (f *fixture) run(t *testing.T) *recon.Reconciliation {
	t.Helper()
	ctx := context.Background()
	r, err := f.engine.Start(ctx, alice, scope, month)
	if err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	done, err := f.engine.Process(ctx, alice, r.ID)
	if err != nil {
		t.Fatalf("Expected process to succeed, got %v", err)
	}
	return done
}

func TestStart_OpensRun(t *testing.T) {
	f := newFixture()

	r, err := f.engine.Start(context.Background(), alice, scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if r.ID == 0 {
		t.Error("Expected an id to be assigned")
	}
	if r.Completed {
		t.Error("Expected run to be open")
	}
	if r.CreatedBy != "alice" {
		t.Errorf("Expected created by alice, got %s", r.CreatedBy)
	}
	if !r.CreatedAt.Equal(fixed) {
		t.Errorf("Expected created at %v, got %v", fixed, r.CreatedAt)
	}
}

func TestStart_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		scope recon.Scope
		w     recon.Window
		code  string
	}{
		{"inverted window", scope, recon.Window{Start: jan31, End: jan1}, bank.CodePeriodInverted},
		{"missing end", scope, recon.Window{Start: jan1}, bank.CodePeriodMissing},
		{"missing company", recon.Scope{BankID: 1}, month, bank.CodeScopeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.engine.Start(context.Background(), alice, tt.scope, tt.w)
			be, ok := bank.AsError(err)
			if !ok {
				t.Fatalf("Expected *bank.Error, got %v", err)
			}
			if be.Kind != bank.KindInvalidData {
				t.Errorf("Expected invalid_data, got %s", be.Kind)
			}
			if be.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, be.Code)
			}
			if n := f.store.CallCount("WithinTx"); n != 0 {
				t.Errorf("Expected no store access, got %d units of work", n)
			}
		})
	}
}

func TestProcess_DuplicateExternalID(t *testing.T) {
	f := newFixture()
	a := f.add(bank.Credit, "100.00", jan1.Add(24*time.Hour), "TX123")
	b := f.add(bank.Credit, "100.00", jan1.Add(24*time.Hour), "TX123")
	f.add(bank.Debit, "3.00", jan1.Add(20*24*time.Hour), "")

	r := f.run(t)

	if r.Matched != 2 {
		t.Errorf("Expected matched 2, got %d", r.Matched)
	}
	if r.Pending != r.Total-2 {
		t.Errorf("Expected pending %d, got %d", r.Total-2, r.Pending)
	}
	for _, id := range []int64{a.ID, b.ID} {
		got, _ := f.store.SystemTransaction(id)
		if !got.Reconciled || got.ReconciledAt == nil {
			t.Errorf("Expected transaction %d reconciled with a timestamp", id)
		}
	}
}

func TestProcess_SimilarityPass(t *testing.T) {
	f := newFixture()
	a := f.add(bank.Credit, "50", jan1.Add(24*time.Hour), "")
	b := f.add(bank.Credit, "50", jan1.Add(48*time.Hour), "")

	r := f.run(t)

	if r.Matched != 2 || r.Pending != 0 {
		t.Errorf("Expected matched 2 pending 0, got %d/%d", r.Matched, r.Pending)
	}
	for _, id := range []int64{a.ID, b.ID} {
		got, _ := f.store.SystemTransaction(id)
		if !got.Reconciled {
			t.Errorf("Expected transaction %d reconciled", id)
		}
	}
}

func TestProcess_TotalsAddUp(t *testing.T) {
	f := newFixture()
	f.add(bank.Credit, "10", jan1, "A")
	f.add(bank.Credit, "10", jan1, "A")
	f.add(bank.Debit, "25", jan1.Add(72*time.Hour), "")
	f.add(bank.Debit, "25", jan1.Add(80*time.Hour), "")
	f.add(bank.Debit, "25", jan1.Add(90*time.Hour), "")
	f.add(bank.Credit, "99", jan31, "")
	// Outside the window.
	f.add(bank.Credit, "99", jan31.Add(time.Second), "")

	r := f.run(t)

	if r.Total != 6 {
		t.Errorf("Expected total 6, got %d", r.Total)
	}
	if r.Matched != 4 {
		t.Errorf("Expected matched 4, got %d", r.Matched)
	}
	if r.Total != r.Matched+r.Pending {
		t.Errorf("Expected total = matched + pending, got %d != %d + %d", r.Total, r.Matched, r.Pending)
	}
	if !r.Completed || r.CompletedAt == nil || !r.CompletedAt.Equal(fixed) {
		t.Errorf("Expected run completed at %v, got %+v", fixed, r.CompletedAt)
	}
}

func TestProcess_CompletedRunRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture()
	f.add(bank.Credit, "50", jan1, "")
	r := f.run(t)

	// A fresh candidate pair arriving later must not be touched.
	late1 := f.add(bank.Credit, "70", jan1.Add(5*24*time.Hour), "")
	late2 := f.add(bank.Credit, "70", jan1.Add(5*24*time.Hour), "")
	entries := len(f.store.AuditEntries())

	_, err := f.engine.Process(context.Background(), alice, r.ID)
	if bank.KindOf(err) != bank.KindInvalidState {
		t.Fatalf("Expected invalid_state, got %v", err)
	}

	for _, id := range []int64{late1.ID, late2.ID} {
		got, _ := f.store.SystemTransaction(id)
		if got.Reconciled {
			t.Errorf("Expected transaction %d untouched", id)
		}
	}
	after, _ := f.engine.Get(context.Background(), r.ID)
	if after.Total != r.Total || after.Matched != r.Matched {
		t.Errorf("Expected run unchanged, got %+v", after)
	}
	if got := len(f.store.AuditEntries()); got != entries {
		t.Errorf("Expected no new audit entries, got %d more", got-entries)
	}
	if got := f.metrics.Snapshot().ReconRuns["rejected"]; got != 1 {
		t.Errorf("Expected 1 rejected run, got %d", got)
	}
}

func TestProcess_UnknownRun(t *testing.T) {
	f := newFixture()
	_, err := f.engine.Process(context.Background(), alice, 404)
	if bank.KindOf(err) != bank.KindNotFound {
		t.Errorf("Expected not_found, got %v", err)
	}
}

func TestProcess_AuditTrail(t *testing.T) {
	f := newFixture()
	f.add(bank.Credit, "100", jan1, "TX123")
	f.add(bank.Credit, "100", jan1, "TX123")
	f.add(bank.Debit, "40", jan1.Add(24*time.Hour), "")
	f.add(bank.Debit, "40", jan1.Add(30*time.Hour), "")

	f.run(t)

	var actions []audit.Action
	for _, e := range f.store.AuditEntries() {
		actions = append(actions, e.Action)
		if e.Actor.ID != "alice" {
			t.Errorf("Expected actor alice on %s, got %s", e.Action, e.Actor.ID)
		}
	}
	want := []audit.Action{
		audit.ActionReconciliationStarted,
		audit.ActionDuplicatesReconciled,
		audit.ActionPairReconciled,
		audit.ActionReconciliationCompleted,
	}
	if len(actions) != len(want) {
		t.Fatalf("Expected %d entries, got %d: %v", len(want), len(actions), actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("Expected entry %d to be %s, got %s", i, want[i], actions[i])
		}
	}

	dup := f.store.AuditEntries()[1]
	if dup.Details["external_id"] != "TX123" {
		t.Errorf("Expected duplicate entry for TX123, got %v", dup.Details["external_id"])
	}
	amounts, _ := dup.Details["amounts"].([]string)
	if len(amounts) != 2 || amounts[0] != "100.00" {
		t.Errorf("Expected amounts [100.00 100.00], got %v", dup.Details["amounts"])
	}
}

func TestProcess_StoreFailureRollsBack(t *testing.T) {
	f := newFixture()
	a := f.add(bank.Credit, "50", jan1, "")
	f.add(bank.Credit, "50", jan1, "")

	r, err := f.engine.Start(context.Background(), alice, scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	f.store.FailOn("UpdateReconciliation", errors.New("disk full"))
	_, err = f.engine.Process(context.Background(), alice, r.ID)
	if err == nil {
		t.Fatal("Expected process to fail")
	}

	got, _ := f.store.SystemTransaction(a.ID)
	if got.Reconciled {
		t.Error("Expected flags rolled back")
	}
	run, _ := f.engine.Get(context.Background(), r.ID)
	if run.Completed {
		t.Error("Expected run still open")
	}

	f.store.FailOn("UpdateReconciliation", nil)
	done, err := f.engine.Process(context.Background(), alice, r.ID)
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if done.Matched != 2 {
		t.Errorf("Expected matched 2, got %d", done.Matched)
	}
}

func TestProcess_ConcurrentCallsCompleteOnce(t *testing.T) {
	f := newFixture()
	f.add(bank.Credit, "50", jan1, "")
	f.add(bank.Credit, "50", jan1, "")

	r, err := f.engine.Start(context.Background(), alice, scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Process(context.Background(), alice, r.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case bank.KindOf(err) == bank.KindInvalidState:
				rejected++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("Expected exactly one completion, got %d", ok)
	}
	if rejected != callers-1 {
		t.Errorf("Expected %d rejections, got %d", callers-1, rejected)
	}
}

func TestReads(t *testing.T) {
	f := newFixture()
	f.add(bank.Credit, "100", jan1, "R")
	f.add(bank.Credit, "100", jan1, "R")
	f.add(bank.Debit, "150", jan1.Add(24*time.Hour), "")
	f.add(bank.Debit, "150", jan1.Add(24*time.Hour), "")
	f.add(bank.Credit, "30", jan1.Add(10*24*time.Hour), "")

	r := f.run(t)
	ctx := context.Background()

	pending, err := f.engine.Pending(ctx, scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Expected 1 pending, got %d", len(pending))
	}

	reconciled, _ := f.engine.Reconciled(ctx, scope, month)
	if len(reconciled) != 4 {
		t.Errorf("Expected 4 reconciled, got %d", len(reconciled))
	}

	// 100 + 100 - 150 - 150
	balance, _ := f.engine.ReconciledBalance(ctx, scope, month)
	if !balance.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("Expected -100, got %s", balance)
	}

	runs, _ := f.engine.List(ctx, scope, month)
	if len(runs) != 1 || runs[0].ID != r.ID {
		t.Errorf("Expected the one run, got %+v", runs)
	}

	narrow := recon.Window{Start: jan1.Add(24 * time.Hour), End: jan31}
	runs, _ = f.engine.List(ctx, scope, narrow)
	if len(runs) != 0 {
		t.Errorf("Expected runs starting before the window to be excluded, got %d", len(runs))
	}

	if _, err := f.engine.Pending(ctx, scope, recon.Window{Start: jan31, End: jan1}); bank.KindOf(err) != bank.KindInvalidData {
		t.Errorf("Expected invalid_data for inverted window, got %v", err)
	}
}

func TestReconciledBalance_Example(t *testing.T) {
	f := newFixture()
	f.add(bank.Credit, "100", jan1, "")
	f.add(bank.Debit, "50", jan1, "")
	f.add(bank.Credit, "30", jan1, "")

	at := jan1
	_ = f.store.Recon().WithinTx(context.Background(), func(tx recon.Tx) error {
		txs, _ := tx.ListTransactions(context.Background(), scope, month, recon.FilterAll)
		return tx.MarkReconciled(context.Background(), []int64{txs[0].ID, txs[1].ID}, at)
	})

	got, err := f.engine.ReconciledBalance(context.Background(), scope, month)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.StringFixed(2) != "50.00" {
		t.Errorf("Expected 50.00, got %s", got.StringFixed(2))
	}
}
