package recon

import (
	"context"
	"fmt"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service is the reconciliation surface used by the HTTP layer. Engine
// implements it; reconcache.Cache decorates it.
type Service interface {
	Start(ctx context.Context, actor audit.Actor, scope Scope, w Window) (*Reconciliation, error)
	Process(ctx context.Context, actor audit.Actor, id int64) (*Reconciliation, error)
	Get(ctx context.Context, id int64) (*Reconciliation, error)
	List(ctx context.Context, scope Scope, w Window) ([]Reconciliation, error)
	Pending(ctx context.Context, scope Scope, w Window) ([]Transaction, error)
	Reconciled(ctx context.Context, scope Scope, w Window) ([]Transaction, error)
	ReconciledBalance(ctx context.Context, scope Scope, w Window) (decimal.Decimal, error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Audit   audit.Recorder
	Metrics metrics.ReconMetrics
	Logger  *logging.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine runs reconciliations against a Store.
type Engine struct {
	store   Store
	audit   audit.Recorder
	metrics metrics.ReconMetrics
	logger  *logging.Logger
	now     func() time.Time
	locks   *keyedMutex
}

var _ Service = (*Engine)(nil)

// NewEngine creates an engine over store.
func NewEngine(store Store, config EngineConfig) *Engine {
	if config.Audit == nil {
		config.Audit = audit.Nop{}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Engine{
		store:   store,
		audit:   config.Audit,
		metrics: config.Metrics,
		logger:  config.Logger.Named("recon"),
		now:     config.Clock,
		locks:   newKeyedMutex(),
	}
}

// Start opens a new run for scope over w.
func (e *Engine) Start(ctx context.Context, actor audit.Actor, scope Scope, w Window) (*Reconciliation, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	r := &Reconciliation{
		CompanyID: scope.CompanyID,
		BankID:    scope.BankID,
		Start:     w.Start,
		End:       w.End,
		CreatedBy: actor.ID,
		CreatedAt: e.now(),
	}

	err := e.store.WithinTx(ctx, func(tx Tx) error {
		return tx.CreateReconciliation(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("reconciliation started",
		logging.ReconciliationID(r.ID),
		logging.CompanyID(r.CompanyID),
		zap.Int64("bank_id", r.BankID),
		logging.Window(r.Start, r.End),
		zap.String("actor", actor.ID),
	)
	e.record(ctx, audit.NewEntry(actor, audit.ActionReconciliationStarted, "reconciliation", r.ID, map[string]any{
		"company_id": r.CompanyID,
		"bank_id":    r.BankID,
		"start":      r.Start,
		"end":        r.End,
	}))

	return r, nil
}

// Process matches the run's transactions and completes it. A completed run
// fails with an invalid-state error and nothing is written. Calls for the
// same id are serialized.
func (e *Engine) Process(ctx context.Context, actor audit.Actor, id int64) (*Reconciliation, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	started := time.Now()

	var (
		run *Reconciliation
		res Result
	)
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.LockReconciliation(ctx, id)
		if err != nil {
			return err
		}
		if r.Completed {
			return bank.InvalidState(fmt.Sprintf("reconciliation %d already completed", id))
		}

		txs, err := tx.ListTransactions(ctx, r.Scope(), r.Window(), FilterAll)
		if err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}

		res = Match(txs)
		now := e.now()

		if ids := res.IDs(); len(ids) > 0 {
			if err := tx.MarkReconciled(ctx, ids, now); err != nil {
				return fmt.Errorf("mark reconciled: %w", err)
			}
		}

		r.Total = len(txs)
		r.Matched = res.Matched()
		r.Pending = r.Total - r.Matched
		r.Completed = true
		r.CompletedAt = &now
		r.Notes = fmt.Sprintf("%d duplicate groups, %d similarity pairs", len(res.Duplicates), len(res.Pairs))

		if err := tx.UpdateReconciliation(ctx, r); err != nil {
			return fmt.Errorf("complete reconciliation: %w", err)
		}
		run = r
		return nil
	})
	if err != nil {
		e.metrics.RecordReconciliation(outcome(err), 0, 0, time.Since(started))
		e.logger.Warn("reconciliation failed",
			logging.ReconciliationID(id),
			zap.String("kind", bank.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, err
	}

	e.metrics.RecordReconciliation("completed", run.Total, run.Matched, time.Since(started))
	e.logger.Info("reconciliation completed",
		logging.ReconciliationID(run.ID),
		zap.Int("total", run.Total),
		zap.Int("matched", run.Matched),
		zap.Int("pending", run.Pending),
		zap.Duration("duration", time.Since(started)),
	)
	e.recordOutcome(ctx, actor, run, res)

	return run, nil
}

func outcome(err error) string {
	switch bank.KindOf(err) {
	case bank.KindInvalidState:
		return "rejected"
	case bank.KindNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// recordOutcome emits one entry per duplicate group, one per pair, then the conclusion.
func (e *Engine) recordOutcome(ctx context.Context, actor audit.Actor, run *Reconciliation, res Result) {
	for _, g := range res.Duplicates {
		ids := make([]int64, len(g.Transactions))
		amounts := make([]string, len(g.Transactions))
		for i, t := range g.Transactions {
			ids[i] = t.ID
			amounts[i] = t.Amount.StringFixed(2)
		}
		e.record(ctx, audit.NewEntry(actor, audit.ActionDuplicatesReconciled, "reconciliation", run.ID, map[string]any{
			"external_id":     g.ExternalID,
			"transaction_ids": ids,
			"amounts":         amounts,
		}))
	}

	for _, p := range res.Pairs {
		e.record(ctx, audit.NewEntry(actor, audit.ActionPairReconciled, "reconciliation", run.ID, map[string]any{
			"transaction_ids": []int64{p.A.ID, p.B.ID},
			"amount":          p.A.Amount.StringFixed(2),
			"direction":       string(p.A.Direction),
			"occurred_at":     []time.Time{p.A.OccurredAt, p.B.OccurredAt},
		}))
	}

	e.record(ctx, audit.NewEntry(actor, audit.ActionReconciliationCompleted, "reconciliation", run.ID, map[string]any{
		"total":   run.Total,
		"matched": run.Matched,
		"pending": run.Pending,
	}))
}

// record never fails the caller: the unit of work already committed.
func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if err := e.audit.Record(ctx, entry); err != nil {
		e.logger.Error("audit record failed",
			zap.String("action", string(entry.Action)),
			zap.Int64("entity_id", entry.EntityID),
			zap.Error(err),
		)
	}
}

// Get returns a run by id.
func (e *Engine) Get(ctx context.Context, id int64) (*Reconciliation, error) {
	return e.store.GetReconciliation(ctx, id)
}

// List returns the runs of scope whose bounds fall within w.
func (e *Engine) List(ctx context.Context, scope Scope, w Window) ([]Reconciliation, error) {
	if err := validateRead(scope, w); err != nil {
		return nil, err
	}
	return e.store.ListReconciliations(ctx, scope, w)
}

// Pending returns unreconciled transactions of scope in w.
func (e *Engine) Pending(ctx context.Context, scope Scope, w Window) ([]Transaction, error) {
	if err := validateRead(scope, w); err != nil {
		return nil, err
	}
	return e.store.ListTransactions(ctx, scope, w, FilterPending)
}

// Reconciled returns reconciled transactions of scope in w.
func (e *Engine) Reconciled(ctx context.Context, scope Scope, w Window) ([]Transaction, error) {
	if err := validateRead(scope, w); err != nil {
		return nil, err
	}
	return e.store.ListTransactions(ctx, scope, w, FilterReconciled)
}

// ReconciledBalance sums credits minus debits over the reconciled transactions of scope in w.
func (e *Engine) ReconciledBalance(ctx context.Context, scope Scope, w Window) (decimal.Decimal, error) {
	txs, err := e.Reconciled(ctx, scope, w)
	if err != nil {
		return decimal.Zero, err
	}
	return Balance(txs), nil
}

// Balance sums the signed amounts of the reconciled transactions in txs.
func Balance(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		if t.Reconciled {
			total = total.Add(t.Signed())
		}
	}
	return total
}

func validateRead(scope Scope, w Window) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return w.Validate()
}
