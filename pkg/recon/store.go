package recon

import (
	"context"
	"time"
)

// Reader is the read side of reconciliation persistence.
type Reader interface {
	// GetReconciliation returns bank.NotFound when id is unknown.
	GetReconciliation(ctx context.Context, id int64) (*Reconciliation, error)
	// ListReconciliations returns runs whose start and end both fall in w.
	ListReconciliations(ctx context.Context, scope Scope, w Window) ([]Reconciliation, error)
	// ListTransactions returns system transactions of scope that occurred in w.
	ListTransactions(ctx context.Context, scope Scope, w Window, f Filter) ([]Transaction, error)
}

// Tx is a unit of work. Nothing it writes is visible until WithinTx commits.
type Tx interface {
	Reader

	CreateReconciliation(ctx context.Context, r *Reconciliation) error
	// LockReconciliation loads the run and holds it until the unit of work ends.
	LockReconciliation(ctx context.Context, id int64) (*Reconciliation, error)
	UpdateReconciliation(ctx context.Context, r *Reconciliation) error
	// MarkReconciled flags every id as reconciled and engine matched at the
	// given time.
	MarkReconciled(ctx context.Context, ids []int64, at time.Time) error
}

// Store runs units of work and serves reads outside them.
type Store interface {
	Reader
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
