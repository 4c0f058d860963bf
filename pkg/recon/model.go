// Package recon matches internally recorded transactions and keeps the
// resulting reconciliation runs.
package recon

import (
	"fmt"
	"time"

	"bank-recon/pkg/bank"

	"github.com/shopspring/decimal"
)

// Scope is the company and bank a run or a read is about.
type Scope struct {
	CompanyID int64 `json:"company_id"`
	BankID    int64 `json:"bank_id"`
}

// Validate rejects non-positive ids.
func (s Scope) Validate() error {
	if s.CompanyID <= 0 {
		return bank.Invalid("", bank.CodeScopeInvalid, "company id must be positive", fmt.Sprint(s.CompanyID))
	}
	if s.BankID <= 0 {
		return bank.Invalid("", bank.CodeScopeInvalid, "bank id must be positive", fmt.Sprint(s.BankID))
	}
	return nil
}

func (s Scope) String() string {
	return fmt.Sprintf("%d/%d", s.CompanyID, s.BankID)
}

// Window is an inclusive time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate requires both bounds and Start <= End.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return bank.Invalid("", bank.CodePeriodMissing, "start and end are required", "")
	}
	if w.Start.After(w.End) {
		return bank.Invalid("", bank.CodePeriodInverted, "start must not be after end",
			fmt.Sprintf("%s > %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)))
	}
	return nil
}

// Contains reports whether t lies within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Transaction is an internally posted movement. The engine only ever
// changes Reconciled, ReconciledAt and EngineMatched. EngineMatched stays set
// once a run matched the transaction, so removing a manual link never
// clears a match the engine made.
type Transaction struct {
	ID            int64           `json:"id"`
	CompanyID     int64           `json:"company_id"`
	BankID        int64           `json:"bank_id"`
	Direction     bank.Direction  `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Description   string          `json:"description,omitempty"`
	ExternalID    string          `json:"external_id,omitempty"`
	Reconciled    bool            `json:"reconciled"`
	ReconciledAt  *time.Time      `json:"reconciled_at,omitempty"`
	EngineMatched bool            `json:"engine_matched,omitempty"`
}

// Scope returns the company/bank the transaction belongs to.
func (t Transaction) Scope() Scope {
	return Scope{CompanyID: t.CompanyID, BankID: t.BankID}
}

// Signed returns the amount with debits negated.
func (t Transaction) Signed() decimal.Decimal {
	return t.Direction.Signed(t.Amount)
}

// Reconciliation is one matching run over a scope and window. It is created
// open and completed exactly once.
type Reconciliation struct {
	ID          int64      `json:"id"`
	CompanyID   int64      `json:"company_id"`
	BankID      int64      `json:"bank_id"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Completed   bool       `json:"completed"`
	Total       int        `json:"total"`
	Matched     int        `json:"matched"`
	Pending     int        `json:"pending"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Scope returns the run's company/bank.
func (r Reconciliation) Scope() Scope {
	return Scope{CompanyID: r.CompanyID, BankID: r.BankID}
}

// Window returns the run's time range.
func (r Reconciliation) Window() Window {
	return Window{Start: r.Start, End: r.End}
}

// Status is "completed" or "open".
func (r Reconciliation) Status() string {
	if r.Completed {
		return "completed"
	}
	return "open"
}

// Filter selects transactions by reconciliation state.
type Filter int

const (
	FilterAll Filter = iota
	FilterPending
	FilterReconciled
)

// Match reports whether t passes the filter.
func (f Filter) Match(t Transaction) bool {
	switch f {
	case FilterPending:
		return !t.Reconciled
	case FilterReconciled:
		return t.Reconciled
	default:
		return true
	}
}
