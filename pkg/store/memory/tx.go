package memory

import (
	"context"
	"fmt"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/integration"
	"bank-recon/pkg/recon"
)

// tx works on a private copy of the state. Units of work are serialized by
// Store.txMu, which doubles as the row lock of LockReconciliation and
// LockAccount.
type tx struct {
	store *Store
	st    *state
}

var (
	_ recon.Tx       = (*tx)(nil)
	_ integration.Tx = (*tx)(nil)
)

func (t *tx) GetReconciliation(ctx context.Context, id int64) (*recon.Reconciliation, error) {
	if err := t.store.enter("GetReconciliation"); err != nil {
		return nil, err
	}
	return t.st.getReconciliation(id)
}

func (t *tx) ListReconciliations(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Reconciliation, error) {
	if err := t.store.enter("ListReconciliations"); err != nil {
		return nil, err
	}
	return t.st.listReconciliations(scope, w), nil
}

func (t *tx) ListTransactions(ctx context.Context, scope recon.Scope, w recon.Window, f recon.Filter) ([]recon.Transaction, error) {
	if err := t.store.enter("ListTransactions"); err != nil {
		return nil, err
	}
	return t.st.listTransactions(scope, w, f), nil
}

func (t *tx) CreateReconciliation(ctx context.Context, r *recon.Reconciliation) error {
	if err := t.store.enter("CreateReconciliation"); err != nil {
		return err
	}
	r.ID = t.st.nextID()
	t.st.recons[r.ID] = *r
	return nil
}

func (t *tx) LockReconciliation(ctx context.Context, id int64) (*recon.Reconciliation, error) {
	if err := t.store.enter("LockReconciliation"); err != nil {
		return nil, err
	}
	return t.st.getReconciliation(id)
}

func (t *tx) UpdateReconciliation(ctx context.Context, r *recon.Reconciliation) error {
	if err := t.store.enter("UpdateReconciliation"); err != nil {
		return err
	}
	if _, ok := t.st.recons[r.ID]; !ok {
		return bank.NotFound("reconciliation", r.ID)
	}
	t.st.recons[r.ID] = *r
	return nil
}

func (t *tx) MarkReconciled(ctx context.Context, ids []int64, at time.Time) error {
	if err := t.store.enter("MarkReconciled"); err != nil {
		return err
	}
	for _, id := range ids {
		st, ok := t.st.systemTxs[id]
		if !ok {
			return bank.NotFound("transaction", id)
		}
		at := at
		st.Reconciled = true
		st.EngineMatched = true
		st.ReconciledAt = &at
		t.st.systemTxs[id] = st
	}
	return nil
}

func (t *tx) LockAccount(ctx context.Context, id int64) (*bank.Account, error) {
	if err := t.store.enter("LockAccount"); err != nil {
		return nil, err
	}
	return t.st.getAccount(id)
}

func (t *tx) SaveAccount(ctx context.Context, acct *bank.Account) error {
	if err := t.store.enter("SaveAccount"); err != nil {
		return err
	}
	if _, ok := t.st.accounts[acct.ID]; !ok {
		return bank.NotFound("account", acct.ID)
	}
	t.st.accounts[acct.ID] = *acct
	return nil
}

func (t *tx) SaveBankTransactions(ctx context.Context, accountID int64, txs []bank.Transaction) (int, error) {
	if err := t.store.enter("SaveBankTransactions"); err != nil {
		return 0, err
	}
	if _, ok := t.st.accounts[accountID]; !ok {
		return 0, bank.NotFound("account", accountID)
	}

	seen := make(map[string]bool)
	for _, bt := range t.st.bankTxs {
		if bt.AccountID == accountID && bt.ExternalID != "" {
			seen[dedupeKey(bt)] = true
		}
	}

	inserted := 0
	for _, bt := range txs {
		bt.AccountID = accountID
		if bt.ExternalID != "" {
			k := dedupeKey(bt)
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		bt.ID = t.st.nextID()
		t.st.bankTxs[bt.ID] = bt
		inserted++
	}
	return inserted, nil
}

func dedupeKey(bt bank.Transaction) string {
	return fmt.Sprintf("%s|%d|%s|%s", bt.ExternalID, bt.PostedAt.UnixNano(), bt.Amount.String(), bt.Direction)
}

func (t *tx) GetBankTransaction(ctx context.Context, id int64) (*bank.Transaction, error) {
	if err := t.store.enter("GetBankTransaction"); err != nil {
		return nil, err
	}
	bt, ok := t.st.bankTxs[id]
	if !ok {
		return nil, bank.NotFound("bank transaction", id)
	}
	return &bt, nil
}

func (t *tx) LinkBankTransaction(ctx context.Context, id int64, systemTxID *int64, at *time.Time) error {
	if err := t.store.enter("LinkBankTransaction"); err != nil {
		return err
	}
	bt, ok := t.st.bankTxs[id]
	if !ok {
		return bank.NotFound("bank transaction", id)
	}
	bt.SystemTransactionID = systemTxID
	bt.Reconciled = systemTxID != nil
	bt.ReconciledAt = at
	t.st.bankTxs[id] = bt
	return nil
}

func (t *tx) CountLinks(ctx context.Context, systemTxID, except int64) (int, error) {
	if err := t.store.enter("CountLinks"); err != nil {
		return 0, err
	}
	n := 0
	for id, bt := range t.st.bankTxs {
		if id != except && bt.SystemTransactionID != nil && *bt.SystemTransactionID == systemTxID {
			n++
		}
	}
	return n, nil
}

func (t *tx) GetSystemTransaction(ctx context.Context, id int64) (*recon.Transaction, error) {
	if err := t.store.enter("GetSystemTransaction"); err != nil {
		return nil, err
	}
	st, ok := t.st.systemTxs[id]
	if !ok {
		return nil, bank.NotFound("transaction", id)
	}
	return &st, nil
}

func (t *tx) SetSystemReconciled(ctx context.Context, id int64, reconciled bool, at *time.Time) error {
	if err := t.store.enter("SetSystemReconciled"); err != nil {
		return err
	}
	st, ok := t.st.systemTxs[id]
	if !ok {
		return bank.NotFound("transaction", id)
	}
	st.Reconciled = reconciled
	st.ReconciledAt = at
	if !reconciled {
		st.ReconciledAt = nil
	}
	t.st.systemTxs[id] = st
	return nil
}
