package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/integration"
	"bank-recon/pkg/recon"

	"github.com/lib/pq"
)

// tx runs every statement on one database transaction.
type tx struct {
	q queryer
}

var (
	_ recon.Tx       = (*tx)(nil)
	_ integration.Tx = (*tx)(nil)
)

func (t *tx) GetReconciliation(ctx context.Context, id int64) (*recon.Reconciliation, error) {
	return getReconciliation(ctx, t.q, id, false)
}

func (t *tx) ListReconciliations(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Reconciliation, error) {
	return listReconciliations(ctx, t.q, scope, w)
}

func (t *tx) ListTransactions(ctx context.Context, scope recon.Scope, w recon.Window, f recon.Filter) ([]recon.Transaction, error) {
	return listTransactions(ctx, t.q, scope, w, f)
}

func (t *tx) CreateReconciliation(ctx context.Context, r *recon.Reconciliation) error {
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO reconciliations (company_id, bank_id, start_at, end_at, completed, total, matched, pending,
			completed_at, notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		r.CompanyID, r.BankID, r.Start, r.End, r.Completed, r.Total, r.Matched, r.Pending,
		r.CompletedAt, r.Notes, r.CreatedBy, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("create reconciliation: %w", err)
	}
	return nil
}

// LockReconciliation takes a row lock held until the transaction ends.
func (t *tx) LockReconciliation(ctx context.Context, id int64) (*recon.Reconciliation, error) {
	return getReconciliation(ctx, t.q, id, true)
}

func (t *tx) UpdateReconciliation(ctx context.Context, r *recon.Reconciliation) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE reconciliations
		SET completed = $2, total = $3, matched = $4, pending = $5, completed_at = $6, notes = $7
		WHERE id = $1`,
		r.ID, r.Completed, r.Total, r.Matched, r.Pending, r.CompletedAt, r.Notes)
	if err != nil {
		return fmt.Errorf("update reconciliation: %w", err)
	}
	return expectRow(res, "reconciliation", r.ID)
}

func (t *tx) MarkReconciled(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE transactions SET reconciled = TRUE, engine_matched = TRUE, reconciled_at = $2 WHERE id = ANY($1)`,
		pq.Array(ids), at)
	if err != nil {
		return fmt.Errorf("mark reconciled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reconciled: %w", err)
	}
	if int(n) != len(unique(ids)) {
		return bank.NotFound("transaction", ids)
	}
	return nil
}

func unique(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func (t *tx) LockAccount(ctx context.Context, id int64) (*bank.Account, error) {
	return getAccount(ctx, t.q, id, true)
}

func (t *tx) SaveAccount(ctx context.Context, acct *bank.Account) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE bank_accounts
		SET kind = $2, balance = $3, balance_updated_at = $4, access_token = $5, refresh_token = $6,
			token_expires_at = $7, last_sync_at = $8
		WHERE id = $1`,
		acct.ID, acct.Kind, acct.Balance, acct.BalanceUpdatedAt, acct.AccessToken, acct.RefreshToken,
		acct.TokenExpiresAt, acct.LastSyncAt)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return expectRow(res, "account", acct.ID)
}

// SaveBankTransactions relies on uq_bank_transactions_external to skip
// entries already stored; rows without an external id are always inserted.
func (t *tx) SaveBankTransactions(ctx context.Context, accountID int64, txs []bank.Transaction) (int, error) {
	if _, err := getAccount(ctx, t.q, accountID, false); err != nil {
		return 0, err
	}

	inserted := 0
	for _, bt := range txs {
		res, err := t.q.ExecContext(ctx, `
			INSERT INTO bank_transactions (account_id, external_id, amount, direction, posted_at, description,
				document, reconciled, reconciled_at, system_transaction_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (account_id, external_id, posted_at, amount, direction) WHERE external_id <> ''
			DO NOTHING`,
			accountID, bt.ExternalID, bt.Amount, bt.Direction, bt.PostedAt, bt.Description,
			bt.Document, bt.Reconciled, bt.ReconciledAt, bt.SystemTransactionID)
		if err != nil {
			return inserted, fmt.Errorf("insert bank transaction %q: %w", bt.ExternalID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

func (t *tx) GetBankTransaction(ctx context.Context, id int64) (*bank.Transaction, error) {
	bt, err := scanBankTransaction(t.q.QueryRowContext(ctx,
		`SELECT `+bankTransactionColumns+` FROM bank_transactions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.NotFound("bank transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query bank transaction: %w", err)
	}
	return bt, nil
}

func (t *tx) LinkBankTransaction(ctx context.Context, id int64, systemTxID *int64, at *time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE bank_transactions
		SET system_transaction_id = $2, reconciled = $3, reconciled_at = $4
		WHERE id = $1`,
		id, systemTxID, systemTxID != nil, at)
	if err != nil {
		return fmt.Errorf("link bank transaction: %w", err)
	}
	return expectRow(res, "bank transaction", id)
}

func (t *tx) CountLinks(ctx context.Context, systemTxID, except int64) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bank_transactions WHERE system_transaction_id = $1 AND id <> $2`,
		systemTxID, except).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count links: %w", err)
	}
	return n, nil
}

func (t *tx) GetSystemTransaction(ctx context.Context, id int64) (*recon.Transaction, error) {
	st, err := scanTransaction(t.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.NotFound("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return st, nil
}

func (t *tx) SetSystemReconciled(ctx context.Context, id int64, reconciled bool, at *time.Time) error {
	if !reconciled {
		at = nil
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE transactions SET reconciled = $2, reconciled_at = $3 WHERE id = $1`,
		id, reconciled, at)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return expectRow(res, "transaction", id)
}

func expectRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", entity, id, err)
	}
	if n == 0 {
		return bank.NotFound(entity, id)
	}
	return nil
}
