package integration

import (
	"context"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/recon"
)

// Store is the account and bank-transaction persistence the service needs.
type Store interface {
	GetAccount(ctx context.Context, id int64) (*bank.Account, error)
	AccountsByCompany(ctx context.Context, companyID int64) ([]bank.Account, error)
	// FindAccount returns bank.NotFound when no account matches.
	FindAccount(ctx context.Context, bankCode, branch, number string) (*bank.Account, error)
	ListBankTransactions(ctx context.Context, accountID int64, start, end time.Time) ([]bank.Transaction, error)

	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a unit of work over accounts, bank transactions and the system
// transactions they link to.
type Tx interface {
	// LockAccount loads the account and holds it until the unit of work ends.
	LockAccount(ctx context.Context, id int64) (*bank.Account, error)
	SaveAccount(ctx context.Context, acct *bank.Account) error

	// SaveBankTransactions stores txs for the account and returns how many
	// were new. A transaction with a non-empty external id is skipped when the
	// account already holds one with the same external id, posting time,
	// amount and direction.
	SaveBankTransactions(ctx context.Context, accountID int64, txs []bank.Transaction) (int, error)
	GetBankTransaction(ctx context.Context, id int64) (*bank.Transaction, error)
	// LinkBankTransaction sets or, with a nil systemTxID, clears the manual link.
	LinkBankTransaction(ctx context.Context, id int64, systemTxID *int64, at *time.Time) error

	// CountLinks reports how many bank transactions other than except link
	// to the system transaction.
	CountLinks(ctx context.Context, systemTxID, except int64) (int, error)

	GetSystemTransaction(ctx context.Context, id int64) (*recon.Transaction, error)
	SetSystemReconciled(ctx context.Context, id int64, reconciled bool, at *time.Time) error
}

// Invalidator evicts cached reconciliation reads for a scope.
type Invalidator interface {
	InvalidateScope(ctx context.Context, scope recon.Scope) error
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidateScope(ctx context.Context, scope recon.Scope) error { return nil }
