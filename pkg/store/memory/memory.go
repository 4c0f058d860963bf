// Package memory is an in-process store for tests and local runs. A unit of
// work operates on a copy of the data that replaces the live copy on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	"bank-recon/pkg/integration"
	"bank-recon/pkg/recon"
)

// Store keeps accounts, transactions, runs and audit entries in maps.
type Store struct {
	txMu sync.Mutex // one unit of work at a time

	mu    sync.RWMutex
	st    *state
	calls map[string]int
	fail  map[string]error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		st:    newState(),
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

// Recon returns the store as a recon.Store.
func (s *Store) Recon() recon.Store { return reconView{s} }

// Integration returns the store as an integration.Store.
func (s *Store) Integration() integration.Store { return integrationView{s} }

type reconView struct{ *Store }

func (v reconView) WithinTx(ctx context.Context, fn func(tx recon.Tx) error) error {
	return v.withinTx(ctx, func(t *tx) error { return fn(t) })
}

type integrationView struct{ *Store }

func (v integrationView) WithinTx(ctx context.Context, fn func(tx integration.Tx) error) error {
	return v.withinTx(ctx, func(t *tx) error { return fn(t) })
}

// CallCount returns how many times the named operation ran, e.g.
// "ListTransactions" or "WithinTx".
func (s *Store) CallCount(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// FailOn makes the named operation return err until FailOn(op, nil).
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *Store) enter(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.fail[op]
}

func (s *Store) withinTx(ctx context.Context, fn func(t *tx) error) error {
	if err := s.enter("WithinTx"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(&tx{store: s, st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	// Audit entries written through the sink while the unit of work ran are kept.
	work.audit = s.st.audit
	s.st = work
	s.mu.Unlock()
	return nil
}

// AddAccount stores acct, assigning an id when it has none.
func (s *Store) AddAccount(acct bank.Account) bank.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct.ID == 0 {
		acct.ID = s.st.nextID()
	}
	s.st.accounts[acct.ID] = acct
	return acct
}

// AddSystemTransaction stores t, assigning an id when it has none.
func (s *Store) AddSystemTransaction(t recon.Transaction) recon.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.st.nextID()
	}
	s.st.systemTxs[t.ID] = t
	return t
}

// AddBankTransaction stores t, assigning an id when it has none.
func (s *Store) AddBankTransaction(t bank.Transaction) bank.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.st.nextID()
	}
	s.st.bankTxs[t.ID] = t
	return t
}

// AddReconciliation stores r, assigning an id when it has none.
func (s *Store) AddReconciliation(r recon.Reconciliation) recon.Reconciliation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.st.nextID()
	}
	s.st.recons[r.ID] = r
	return r
}

// SystemTransaction returns the committed system transaction id.
func (s *Store) SystemTransaction(id int64) (recon.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.st.systemTxs[id]
	return t, ok
}

// BankTransaction returns the committed bank transaction id.
func (s *Store) BankTransaction(id int64) (bank.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.st.bankTxs[id]
	return t, ok
}

// Account returns the committed account id.
func (s *Store) Account(id int64) (bank.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.st.accounts[id]
	return a, ok
}

// WriteEntry implements audit.Sink.
func (s *Store) WriteEntry(ctx context.Context, e audit.Entry) error {
	if err := s.enter("WriteEntry"); err != nil {
		return err
	}
	s.mu.Lock()
	s.st.audit = append(s.st.audit, e)
	s.mu.Unlock()
	return nil
}

// Record lets the store act as an audit.Recorder without a writer in front.
func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	return s.WriteEntry(ctx, e)
}

// AuditEntries returns the recorded entries in write order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, len(s.st.audit))
	copy(out, s.st.audit)
	return out
}

// Reads outside a unit of work see the last committed state.

func (s *Store) GetReconciliation(ctx context.Context, id int64) (*recon.Reconciliation, error) {
	if err := s.enter("GetReconciliation"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getReconciliation(id)
}

func (s *Store) ListReconciliations(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Reconciliation, error) {
	if err := s.enter("ListReconciliations"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listReconciliations(scope, w), nil
}

func (s *Store) ListTransactions(ctx context.Context, scope recon.Scope, w recon.Window, f recon.Filter) ([]recon.Transaction, error) {
	if err := s.enter("ListTransactions"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listTransactions(scope, w, f), nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*bank.Account, error) {
	if err := s.enter("GetAccount"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getAccount(id)
}

func (s *Store) AccountsByCompany(ctx context.Context, companyID int64) ([]bank.Account, error) {
	if err := s.enter("AccountsByCompany"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bank.Account
	for _, a := range s.st.accounts {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindAccount(ctx context.Context, bankCode, branch, number string) (*bank.Account, error) {
	if err := s.enter("FindAccount"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *bank.Account
	for _, a := range s.st.accounts {
		if a.BankCode == bankCode && a.Branch == branch && a.Number == number {
			if found == nil || a.ID < found.ID {
				a := a
				found = &a
			}
		}
	}
	if found == nil {
		return nil, bank.NotFound("account", bankCode+"/"+branch+"/"+number)
	}
	return found, nil
}

func (s *Store) ListBankTransactions(ctx context.Context, accountID int64, start, end time.Time) ([]bank.Transaction, error) {
	if err := s.enter("ListBankTransactions"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := recon.Window{Start: start, End: end}
	var out []bank.Transaction
	for _, t := range s.st.bankTxs {
		if t.AccountID == accountID && w.Contains(t.PostedAt) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
