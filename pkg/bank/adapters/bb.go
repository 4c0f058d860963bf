package adapters

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"bank-recon/pkg/bank"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2/clientcredentials"
)

// BancoDoBrasil talks to the Banco do Brasil API with OAuth2 client credentials.
type BancoDoBrasil struct {
	t  *transport
	cc *clientcredentials.Config
}

var _ bank.Gateway = (*BancoDoBrasil)(nil)

// NewBancoDoBrasil creates the 001 adapter.
func NewBancoDoBrasil(config Config) (*BancoDoBrasil, error) {
	t, err := newTransport(bank.BancoDoBrasil, "banco do brasil", config)
	if err != nil {
		return nil, err
	}
	return &BancoDoBrasil{t: t, cc: oauthConfig(config, "/oauth/token", nil)}, nil
}

func (b *BancoDoBrasil) Code() string            { return bank.BancoDoBrasil }
func (b *BancoDoBrasil) Name() string            { return "Banco do Brasil" }
func (b *BancoDoBrasil) AuthMode() bank.AuthMode { return bank.AuthOAuth2 }

func (b *BancoDoBrasil) Capabilities() []bank.Capability {
	return []bank.Capability{bank.CapBalance, bank.CapStatement, bank.CapWebhook, bank.CapAccountStatus, bank.CapAccountDetails}
}

func (b *BancoDoBrasil) TokenValid(ctx context.Context, acct *bank.Account) (bool, error) {
	return !b.t.tokenExpired(acct), nil
}

func (b *BancoDoBrasil) RefreshToken(ctx context.Context, acct *bank.Account) (*bank.Token, error) {
	return b.t.clientCredentials(ctx, b.cc)
}

type bbBalance struct {
	Saldo           decimal.Decimal `json:"saldo"`
	SaldoDisponivel decimal.Decimal `json:"saldoDisponivel"`
	Limite          decimal.Decimal `json:"limite"`
	Moeda           string          `json:"moeda"`
}

func (b *BancoDoBrasil) FetchBalance(ctx context.Context, acct *bank.Account) (*bank.Balance, error) {
	if err := b.t.validator.Account(b.Code(), acct.Number); err != nil {
		return nil, err
	}
	var out bbBalance
	_, err := b.t.call(ctx, request{
		op:     "balance",
		method: http.MethodGet,
		path:   "/contas/" + url.PathEscape(acct.Number) + "/saldo",
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}

	available := out.SaldoDisponivel
	if available.IsZero() {
		available = out.Saldo
	}
	currency := out.Moeda
	if currency == "" {
		currency = "BRL"
	}
	return &bank.Balance{
		Available:   available,
		Total:       out.Saldo,
		CreditLimit: out.Limite,
		Currency:    currency,
		QueriedAt:   b.t.now(),
	}, nil
}

type bbEntry struct {
	ID        string          `json:"id"`
	Data      string          `json:"data"`
	Valor     decimal.Decimal `json:"valor"`
	Tipo      string          `json:"tipo"`
	Descricao string          `json:"descricao"`
	Documento string          `json:"documento"`
}

func (e bbEntry) line() statementLine {
	return statementLine{ID: e.ID, At: e.Data, Amount: e.Valor, Direction: e.Tipo, Description: e.Descricao, Document: e.Documento}
}

func (b *BancoDoBrasil) FetchTransactions(ctx context.Context, acct *bank.Account, start, end time.Time) ([]bank.Transaction, error) {
	if err := b.t.validator.Period(b.Code(), start, end); err != nil {
		return nil, err
	}
	if err := b.t.validator.Account(b.Code(), acct.Number); err != nil {
		return nil, err
	}

	var out struct {
		Transacoes []bbEntry `json:"transacoes"`
	}
	_, err := b.t.call(ctx, request{
		op:     "statement",
		method: http.MethodGet,
		path:   "/contas/" + url.PathEscape(acct.Number) + "/extrato?" + periodQuery("dataInicio", "dataFim", start, end),
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}

	lines := make([]statementLine, len(out.Transacoes))
	for i, e := range out.Transacoes {
		lines[i] = e.line()
	}
	return toTransactions(b.t.table, lines)
}

func (b *BancoDoBrasil) RegisterWebhook(ctx context.Context, acct *bank.Account, webhookURL string) (bool, error) {
	if err := b.t.validator.WebhookURL(b.Code(), webhookURL); err != nil {
		return false, err
	}
	status, err := b.t.call(ctx, request{
		op:     "webhook",
		method: http.MethodPost,
		path:   "/webhooks",
		token:  acct.AccessToken,
		body: map[string]any{
			"conta":      acct.Number,
			"webhookUrl": webhookURL,
			"eventos":    webhookEvents,
		},
	})
	if err != nil {
		return false, err
	}
	return status == http.StatusCreated, nil
}

func (b *BancoDoBrasil) CheckAccountActive(ctx context.Context, acct *bank.Account) (bool, error) {
	if err := b.t.validator.Account(b.Code(), acct.Number); err != nil {
		return false, err
	}
	var out struct {
		Status string `json:"status"`
	}
	_, err := b.t.call(ctx, request{
		op:     "account_status",
		method: http.MethodGet,
		path:   "/contas/" + url.PathEscape(acct.Number) + "/status",
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return false, err
	}
	return isActive(out.Status), nil
}

func (b *BancoDoBrasil) FetchAccountDetails(ctx context.Context, branch, number string) (*bank.AccountDetails, error) {
	if err := b.t.validator.Branch(b.Code(), branch); err != nil {
		return nil, err
	}
	if err := b.t.validator.Account(b.Code(), number); err != nil {
		return nil, err
	}
	var out struct {
		Agencia   string `json:"agencia"`
		Conta     string `json:"conta"`
		Tipo      string `json:"tipo"`
		Titular   string `json:"titular"`
		Documento string `json:"documento"`
		Status    string `json:"status"`
	}
	_, err := b.t.call(ctx, request{
		op:     "account_details",
		method: http.MethodGet,
		path:   "/contas/" + url.PathEscape(number) + "?agencia=" + url.QueryEscape(branch),
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &bank.AccountDetails{
		Branch:     out.Agencia,
		Number:     out.Conta,
		Kind:       accountKind(out.Tipo),
		HolderName: out.Titular,
		HolderDoc:  out.Documento,
		Active:     isActive(out.Status),
	}, nil
}

type bbWebhook struct {
	Tipo          string           `json:"tipo"`
	Agencia       string           `json:"agencia"`
	Conta         string           `json:"conta"`
	IDTransacao   string           `json:"idTransacao"`
	Data          string           `json:"data"`
	Valor         decimal.Decimal  `json:"valor"`
	TipoTransacao string           `json:"tipoTransacao"`
	Descricao     string           `json:"descricao"`
	Saldo         *decimal.Decimal `json:"saldo"`
}

func (b *BancoDoBrasil) ParseWebhook(payload []byte) (*bank.WebhookEvent, error) {
	var w bbWebhook
	if err := decodeWebhook(b.t.table, payload, &w); err != nil {
		return nil, err
	}

	ev := &bank.WebhookEvent{Type: eventType(w.Tipo), Branch: w.Agencia, AccountNumber: w.Conta, Raw: payload}
	switch ev.Type {
	case bank.EventTransactionPosted:
		tx, err := toTransaction(b.t.table, statementLine{
			ID: w.IDTransacao, At: w.Data, Amount: w.Valor, Direction: w.TipoTransacao, Description: w.Descricao,
		})
		if err != nil {
			return nil, err
		}
		ev.Transaction = &tx
	case bank.EventBalanceUpdated:
		if w.Saldo == nil {
			return nil, b.t.table.ErrorFor(bank.KindInvalidData, "balance event without saldo", nil)
		}
		ev.Balance = &bank.Balance{Available: *w.Saldo, Total: *w.Saldo, Currency: "BRL", QueriedAt: b.t.now()}
	}
	return ev, nil
}
