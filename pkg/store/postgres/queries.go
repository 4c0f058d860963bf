package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/recon"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const reconciliationColumns = `id, company_id, bank_id, start_at, end_at, completed, total, matched, pending,
	completed_at, notes, created_by, created_at`

func scanReconciliation(row scanner) (*recon.Reconciliation, error) {
	var r recon.Reconciliation
	err := row.Scan(&r.ID, &r.CompanyID, &r.BankID, &r.Start, &r.End, &r.Completed,
		&r.Total, &r.Matched, &r.Pending, &r.CompletedAt, &r.Notes, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func getReconciliation(ctx context.Context, q queryer, id int64, lock bool) (*recon.Reconciliation, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	r, err := scanReconciliation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.NotFound("reconciliation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query reconciliation: %w", err)
	}
	return r, nil
}

// listReconciliations returns runs whose start and end both fall in w.
func listReconciliations(ctx context.Context, q queryer, scope recon.Scope, w recon.Window) ([]recon.Reconciliation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+reconciliationColumns+`
		FROM reconciliations
		WHERE company_id = $1 AND bank_id = $2 AND start_at >= $3 AND end_at <= $4
		ORDER BY id`,
		scope.CompanyID, scope.BankID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	var out []recon.Reconciliation
	for rows.Next() {
		r, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const transactionColumns = `id, company_id, bank_id, direction, amount, occurred_at, description, external_id,
	reconciled, reconciled_at, engine_matched`

func scanTransaction(row scanner) (*recon.Transaction, error) {
	var t recon.Transaction
	err := row.Scan(&t.ID, &t.CompanyID, &t.BankID, &t.Direction, &t.Amount, &t.OccurredAt,
		&t.Description, &t.ExternalID, &t.Reconciled, &t.ReconciledAt, &t.EngineMatched)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func filterClause(f recon.Filter) string {
	switch f {
	case recon.FilterPending:
		return ` AND NOT reconciled`
	case recon.FilterReconciled:
		return ` AND reconciled`
	default:
		return ``
	}
}

func listTransactions(ctx context.Context, q queryer, scope recon.Scope, w recon.Window, f recon.Filter) ([]recon.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE company_id = $1 AND bank_id = $2 AND occurred_at >= $3 AND occurred_at <= $4`+filterClause(f)+`
		ORDER BY id`,
		scope.CompanyID, scope.BankID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []recon.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const accountColumns = `id, company_id, bank_code, branch, number, kind, balance, balance_updated_at,
	access_token, refresh_token, token_expires_at, last_sync_at`

func scanAccount(row scanner) (*bank.Account, error) {
	var a bank.Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.BankCode, &a.Branch, &a.Number, &a.Kind, &a.Balance,
		&a.BalanceUpdatedAt, &a.AccessToken, &a.RefreshToken, &a.TokenExpiresAt, &a.LastSyncAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getAccount(ctx context.Context, q queryer, id int64, lock bool) (*bank.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM bank_accounts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	a, err := scanAccount(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.NotFound("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*bank.Account, error) {
	return getAccount(ctx, s.db, id, false)
}

func (s *Store) AccountsByCompany(ctx context.Context, companyID int64) ([]bank.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []bank.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) FindAccount(ctx context.Context, bankCode, branch, number string) (*bank.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM bank_accounts
		WHERE bank_code = $1 AND branch = $2 AND number = $3
		ORDER BY id LIMIT 1`,
		bankCode, branch, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.NotFound("account", bankCode+"/"+branch+"/"+number)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

const bankTransactionColumns = `id, account_id, external_id, amount, direction, posted_at, description, document,
	reconciled, reconciled_at, system_transaction_id`

func scanBankTransaction(row scanner) (*bank.Transaction, error) {
	var t bank.Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.ExternalID, &t.Amount, &t.Direction, &t.PostedAt,
		&t.Description, &t.Document, &t.Reconciled, &t.ReconciledAt, &t.SystemTransactionID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListBankTransactions(ctx context.Context, accountID int64, start, end time.Time) ([]bank.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bankTransactionColumns+` FROM bank_transactions
		WHERE account_id = $1 AND posted_at >= $2 AND posted_at <= $3
		ORDER BY id`,
		accountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query bank transactions: %w", err)
	}
	defer rows.Close()

	var out []bank.Transaction
	for rows.Next() {
		t, err := scanBankTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bank transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
