// Package integration keeps accounts and their bank transactions in step
// with the external banks, through whichever gateway serves each account.
package integration

import (
	"context"
	"fmt"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/recon"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults for ServiceConfig.
const (
	DefaultLookback        = 30 * 24 * time.Hour
	DefaultTokenSkew       = time.Minute
	DefaultSyncConcurrency = 4
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Invalidator is told about every manual link change.
	Invalidator Invalidator
	Audit       audit.Recorder
	Logger      *logging.Logger
	// Lookback is the window start for accounts that never synced.
	Lookback time.Duration
	// MaxSpan bounds each statement request; longer gaps are synced in
	// several requests. It should match the gateways' limit.
	MaxSpan time.Duration
	// TokenSkew treats tokens expiring this soon as expired.
	TokenSkew       time.Duration
	SyncConcurrency int
	Clock           func() time.Time
}

// SyncResult reports one account synchronization.
type SyncResult struct {
	AccountID int64     `json:"account_id"`
	BankCode  string    `json:"bank_code"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Chunks    int       `json:"chunks"`
	Fetched   int       `json:"fetched"`
	Inserted  int       `json:"inserted"`
}

// Service drives the gateways on behalf of stored accounts.
type Service struct {
	registry    *bank.Registry
	store       Store
	invalidator Invalidator
	audit       audit.Recorder
	logger      *logging.Logger
	lookback    time.Duration
	maxSpan     time.Duration
	skew        time.Duration
	concurrency int
	now         func() time.Time
}

// NewService creates a service resolving gateways from registry.
func NewService(registry *bank.Registry, store Store, config ServiceConfig) *Service {
	if config.Invalidator == nil {
		config.Invalidator = nopInvalidator{}
	}
	if config.Audit == nil {
		config.Audit = audit.Nop{}
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}
	if config.Lookback <= 0 {
		config.Lookback = DefaultLookback
	}
	if config.MaxSpan <= 0 {
		config.MaxSpan = bank.DefaultMaxStatementSpan
	}
	if config.TokenSkew <= 0 {
		config.TokenSkew = DefaultTokenSkew
	}
	if config.SyncConcurrency <= 0 {
		config.SyncConcurrency = DefaultSyncConcurrency
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Service{
		registry:    registry,
		store:       store,
		invalidator: config.Invalidator,
		audit:       config.Audit,
		logger:      config.Logger.Named("integration"),
		lookback:    config.Lookback,
		maxSpan:     config.MaxSpan,
		skew:        config.TokenSkew,
		concurrency: config.SyncConcurrency,
		now:         config.Clock,
	}
}

// gatewayFor loads the account and resolves its gateway.
func (s *Service) gatewayFor(ctx context.Context, accountID int64) (*bank.Account, bank.Gateway, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	gw, err := s.registry.Resolve(acct.BankCode)
	if err != nil {
		return nil, nil, err
	}
	return acct, gw, nil
}

// ensureToken refreshes the account's token when the gateway rejects it.
// It reports whether acct changed and needs saving.
func (s *Service) ensureToken(ctx context.Context, gw bank.Gateway, acct *bank.Account) (bool, error) {
	if !acct.TokenExpired(s.now(), s.skew) {
		valid, err := gw.TokenValid(ctx, acct)
		if err != nil {
			return false, err
		}
		if valid {
			return false, nil
		}
	}

	tok, err := gw.RefreshToken(ctx, acct)
	if err != nil {
		return false, err
	}
	acct.ApplyToken(tok)
	s.logger.Info("token refreshed",
		logging.AccountID(acct.ID),
		logging.Bank(gw.Code()),
		zap.Time("expires_at", tok.ExpiresAt),
	)
	return true, nil
}

// withAccount runs fn on the locked account inside one unit of work, after
// making sure its token is usable. A refreshed token is saved with the rest.
func (s *Service) withAccount(ctx context.Context, accountID int64, fn func(tx Tx, gw bank.Gateway, acct *bank.Account) error) (string, error) {
	_, gw, err := s.gatewayFor(ctx, accountID)
	if err != nil {
		return "", err
	}
	code := gw.Code()

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		refreshed, err := s.ensureToken(ctx, gw, acct)
		if err != nil {
			return err
		}
		if err := fn(tx, gw, acct); err != nil {
			return err
		}
		if refreshed {
			return tx.SaveAccount(ctx, acct)
		}
		return nil
	})
	return code, err
}

// SyncTransactions pulls the account's statement since its last sync (or
// the lookback period) up to now and stores what is new. A gap longer than
// the gateways' maximum span is walked in consecutive chunks, each committed
// on its own with LastSyncAt advanced to the chunk end, so a failure part
// way resumes from the last chunk that was stored.
func (s *Service) SyncTransactions(ctx context.Context, actor audit.Actor, accountID int64) (*SyncResult, error) {
	var (
		res  *SyncResult
		code string
	)
	until := s.now()

	for {
		if err := ctx.Err(); err != nil {
			return nil, s.fail("sync transactions", accountID, code, err)
		}

		var chunk SyncResult
		var err error
		code, err = s.withAccount(ctx, accountID, func(tx Tx, gw bank.Gateway, acct *bank.Account) error {
			start := until.Add(-s.lookback)
			if acct.LastSyncAt != nil {
				start = *acct.LastSyncAt
			}
			end := until
			if limit := start.Add(s.maxSpan); limit.Before(end) {
				end = limit
			}

			txs, err := gw.FetchTransactions(ctx, acct, start, end)
			if err != nil {
				return err
			}
			inserted, err := tx.SaveBankTransactions(ctx, acct.ID, txs)
			if err != nil {
				return fmt.Errorf("save transactions: %w", err)
			}

			acct.LastSyncAt = &end
			if err := tx.SaveAccount(ctx, acct); err != nil {
				return fmt.Errorf("save account: %w", err)
			}

			chunk = SyncResult{
				AccountID: acct.ID,
				BankCode:  gw.Code(),
				Start:     start,
				End:       end,
				Fetched:   len(txs),
				Inserted:  inserted,
			}
			return nil
		})
		if err != nil {
			if res != nil {
				s.logger.Warn("sync stopped part way",
					logging.AccountID(accountID),
					logging.Bank(code),
					zap.Time("synced_until", res.End),
				)
			}
			return nil, s.fail("sync transactions", accountID, code, err)
		}

		if res == nil {
			res = &SyncResult{AccountID: chunk.AccountID, BankCode: chunk.BankCode, Start: chunk.Start}
		}
		res.End = chunk.End
		res.Chunks++
		res.Fetched += chunk.Fetched
		res.Inserted += chunk.Inserted

		if !chunk.End.Before(until) {
			break
		}
	}

	s.logger.Info("account synced",
		logging.AccountID(res.AccountID),
		logging.Bank(res.BankCode),
		logging.Window(res.Start, res.End),
		zap.Int("chunks", res.Chunks),
		zap.Int("fetched", res.Fetched),
		zap.Int("inserted", res.Inserted),
	)
	s.record(ctx, audit.NewEntry(actor, audit.ActionAccountSynced, "account", accountID, map[string]any{
		"bank":     res.BankCode,
		"start":    res.Start,
		"end":      res.End,
		"chunks":   res.Chunks,
		"fetched":  res.Fetched,
		"inserted": res.Inserted,
	}))
	return res, nil
}

// SyncCompany syncs every account of the company, a few at a time. One
// account failing does not stop the others; the first error is returned
// alongside every result that succeeded.
func (s *Service) SyncCompany(ctx context.Context, actor audit.Actor, companyID int64, banks ...string) ([]SyncResult, error) {
	if len(banks) > 0 {
		if err := bank.ValidateBanks(banks); err != nil {
			return nil, err
		}
	}

	accounts, err := s.store.AccountsByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(banks))
	for _, b := range banks {
		wanted[b] = true
	}

	results := make([]*SyncResult, len(accounts))
	errs := make([]error, len(accounts))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, acct := range accounts {
		if len(wanted) > 0 && !wanted[acct.BankCode] {
			continue
		}
		i, id := i, acct.ID
		g.Go(func() error {
			results[i], errs[i] = s.SyncTransactions(ctx, actor, id)
			return nil
		})
	}
	_ = g.Wait()

	var (
		out      []SyncResult
		firstErr error
	)
	for i := range accounts {
		if results[i] != nil {
			out = append(out, *results[i])
		}
		if errs[i] != nil && firstErr == nil {
			firstErr = errs[i]
		}
	}
	return out, firstErr
}

// RefreshBalance fetches the current balance and stores it on the account.
func (s *Service) RefreshBalance(ctx context.Context, actor audit.Actor, accountID int64) (*bank.Balance, error) {
	var bal *bank.Balance

	code, err := s.withAccount(ctx, accountID, func(tx Tx, gw bank.Gateway, acct *bank.Account) error {
		b, err := gw.FetchBalance(ctx, acct)
		if err != nil {
			return err
		}
		now := s.now()
		acct.Balance = b.Total
		acct.BalanceUpdatedAt = &now
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		bal = b
		return nil
	})
	if err != nil {
		return nil, s.fail("refresh balance", accountID, code, err)
	}

	s.record(ctx, audit.NewEntry(actor, audit.ActionBalanceRefreshed, "account", accountID, map[string]any{
		"bank":      code,
		"total":     bal.Total.StringFixed(2),
		"available": bal.Available.StringFixed(2),
	}))
	return bal, nil
}

// RegisterWebhook asks the bank to notify url about the account.
func (s *Service) RegisterWebhook(ctx context.Context, actor audit.Actor, accountID int64, url string) error {
	code, err := s.withAccount(ctx, accountID, func(tx Tx, gw bank.Gateway, acct *bank.Account) error {
		ok, err := gw.RegisterWebhook(ctx, acct, url)
		if err != nil {
			return err
		}
		if !ok {
			return bank.TableFor(gw.Code()).ErrorFor(bank.KindServiceUnavailable, "webhook registration not acknowledged", nil)
		}
		return nil
	})
	if err != nil {
		return s.fail("register webhook", accountID, code, err)
	}

	s.record(ctx, audit.NewEntry(actor, audit.ActionWebhookRegistered, "account", accountID, map[string]any{
		"bank": code,
		"url":  url,
	}))
	return nil
}

// CheckAccountStatus reports whether the bank considers the account active.
func (s *Service) CheckAccountStatus(ctx context.Context, accountID int64) (bool, error) {
	var active bool
	code, err := s.withAccount(ctx, accountID, func(tx Tx, gw bank.Gateway, acct *bank.Account) error {
		var err error
		active, err = gw.CheckAccountActive(ctx, acct)
		return err
	})
	if err != nil {
		return false, s.fail("check account status", accountID, code, err)
	}
	return active, nil
}

// AccountDetails asks the bank how it sees the account.
func (s *Service) AccountDetails(ctx context.Context, accountID int64) (*bank.AccountDetails, error) {
	var details *bank.AccountDetails
	code, err := s.withAccount(ctx, accountID, func(tx Tx, gw bank.Gateway, acct *bank.Account) error {
		var err error
		details, err = gw.FetchAccountDetails(ctx, acct.Branch, acct.Number)
		return err
	})
	if err != nil {
		return nil, s.fail("account details", accountID, code, err)
	}
	return details, nil
}

// ReconcileTransaction links a bank transaction to a system transaction by
// hand and flags both as reconciled. A previous link of the bank transaction
// is released first.
func (s *Service) ReconcileTransaction(ctx context.Context, actor audit.Actor, bankTxID, systemTxID int64) error {
	var scopes []recon.Scope
	now := s.now()

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		bt, err := tx.GetBankTransaction(ctx, bankTxID)
		if err != nil {
			return err
		}
		st, err := tx.GetSystemTransaction(ctx, systemTxID)
		if err != nil {
			return err
		}
		if bt.SystemTransactionID != nil && *bt.SystemTransactionID != systemTxID {
			released, err := release(ctx, tx, *bt.SystemTransactionID, bankTxID)
			if err != nil {
				return err
			}
			scopes = append(scopes, released)
		}
		if err := tx.LinkBankTransaction(ctx, bankTxID, &systemTxID, &now); err != nil {
			return err
		}
		if !st.Reconciled {
			if err := tx.SetSystemReconciled(ctx, systemTxID, true, &now); err != nil {
				return err
			}
		}
		scopes = append(scopes, st.Scope())
		return nil
	})
	if err != nil {
		return s.fail("reconcile transaction", bankTxID, "", err)
	}

	s.invalidate(ctx, scopes...)
	s.record(ctx, audit.NewEntry(actor, audit.ActionManualReconcile, "bank_transaction", bankTxID, map[string]any{
		"system_transaction_id": systemTxID,
	}))
	return nil
}

// Unreconcile removes a manual link. The system transaction stays reconciled
// while the engine matched it or another bank transaction still links to it.
func (s *Service) Unreconcile(ctx context.Context, actor audit.Actor, bankTxID int64) error {
	var (
		scopes []recon.Scope
		linked *int64
	)

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		bt, err := tx.GetBankTransaction(ctx, bankTxID)
		if err != nil {
			return err
		}
		linked = bt.SystemTransactionID
		if linked != nil {
			released, err := release(ctx, tx, *linked, bankTxID)
			if err != nil {
				return err
			}
			scopes = append(scopes, released)
		}
		return tx.LinkBankTransaction(ctx, bankTxID, nil, nil)
	})
	if err != nil {
		return s.fail("unreconcile transaction", bankTxID, "", err)
	}

	s.invalidate(ctx, scopes...)
	details := map[string]any{}
	if linked != nil {
		details["system_transaction_id"] = *linked
	}
	s.record(ctx, audit.NewEntry(actor, audit.ActionManualUnreconcile, "bank_transaction", bankTxID, details))
	return nil
}

// release drops bankTxID's claim on the system transaction and clears its
// flag when nothing else holds it reconciled. It returns the transaction's
// scope.
func release(ctx context.Context, tx Tx, systemTxID, bankTxID int64) (recon.Scope, error) {
	st, err := tx.GetSystemTransaction(ctx, systemTxID)
	if err != nil {
		return recon.Scope{}, err
	}
	if st.EngineMatched || !st.Reconciled {
		return st.Scope(), nil
	}
	others, err := tx.CountLinks(ctx, systemTxID, bankTxID)
	if err != nil {
		return recon.Scope{}, err
	}
	if others == 0 {
		if err := tx.SetSystemReconciled(ctx, systemTxID, false, nil); err != nil {
			return recon.Scope{}, err
		}
	}
	return st.Scope(), nil
}

// DispatchWebhook routes a bank notification to the bank's gateway and
// applies the parsed event.
func (s *Service) DispatchWebhook(ctx context.Context, bankCode string, payload []byte) error {
	gw, err := s.registry.Resolve(bankCode)
	if err != nil {
		return err
	}

	ev, err := gw.ParseWebhook(payload)
	if err != nil {
		return s.fail("parse webhook", 0, bankCode, err)
	}

	switch ev.Type {
	case bank.EventTransactionPosted, bank.EventBalanceUpdated:
	default:
		s.logger.Info("webhook event ignored",
			logging.Bank(bankCode),
			zap.String("type", string(ev.Type)),
		)
		return nil
	}

	acct, err := s.store.FindAccount(ctx, bankCode, ev.Branch, ev.AccountNumber)
	if err != nil {
		return err
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		locked, err := tx.LockAccount(ctx, acct.ID)
		if err != nil {
			return err
		}
		switch ev.Type {
		case bank.EventTransactionPosted:
			if ev.Transaction == nil {
				return bank.TableFor(bankCode).ErrorFor(bank.KindInvalidData, "transaction event without transaction", nil)
			}
			_, err := tx.SaveBankTransactions(ctx, locked.ID, []bank.Transaction{*ev.Transaction})
			return err
		default:
			if ev.Balance == nil {
				return bank.TableFor(bankCode).ErrorFor(bank.KindInvalidData, "balance event without balance", nil)
			}
			now := s.now()
			locked.Balance = ev.Balance.Total
			locked.BalanceUpdatedAt = &now
			return tx.SaveAccount(ctx, locked)
		}
	})
	if err != nil {
		return s.fail("apply webhook", acct.ID, bankCode, err)
	}

	s.logger.Info("webhook applied",
		logging.Bank(bankCode),
		zap.String("type", string(ev.Type)),
		logging.AccountID(acct.ID),
	)
	return nil
}

// fail logs err and translates anything that is not a *bank.Error into the
// bank's catch-all internal code.
func (s *Service) fail(op string, id int64, bankCode string, err error) error {
	err = Translate(bankCode, err)
	s.logger.Error(op+" failed",
		zap.Int64("id", id),
		logging.Bank(bankCode),
		zap.String("kind", bank.KindOf(err).String()),
		zap.Error(err),
	)
	return err
}

// Translate keeps *bank.Error values and wraps anything else in the bank's
// internal code with the original message as detail.
func Translate(bankCode string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := bank.AsError(err); ok {
		return err
	}
	return bank.TableFor(bankCode).ErrorFor(bank.KindInternal, err.Error(), err)
}

// invalidate evicts each distinct scope once.
func (s *Service) invalidate(ctx context.Context, scopes ...recon.Scope) {
	seen := make(map[recon.Scope]bool, len(scopes))
	for _, scope := range scopes {
		if seen[scope] {
			continue
		}
		seen[scope] = true
		if err := s.invalidator.InvalidateScope(ctx, scope); err != nil {
			s.logger.Warn("cache invalidation failed", zap.Stringer("scope", scope), zap.Error(err))
		}
	}
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("audit record failed",
			zap.String("action", string(entry.Action)),
			zap.Int64("entity_id", entry.EntityID),
			zap.Error(err),
		)
	}
}
