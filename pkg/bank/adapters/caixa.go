package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"bank-recon/pkg/bank"

	"github.com/shopspring/decimal"
)

// apiKeyHeader carries Caixa's static credential.
const apiKeyHeader = "X-API-Key"

// Caixa talks to the Caixa Econômica Federal API using a static API key.
// There is no token exchange: the key itself is the token.
type Caixa struct {
	t      *transport
	apiKey string
}

var _ bank.Gateway = (*Caixa)(nil)

// NewCaixa creates the 104 adapter. APIKey is required.
func NewCaixa(config Config) (*Caixa, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("caixa: API key required")
	}
	t, err := newTransport(bank.Caixa, "caixa", config)
	if err != nil {
		return nil, err
	}
	key := config.APIKey
	t.decorate = func(req *http.Request) {
		req.Header.Set(apiKeyHeader, key)
	}
	return &Caixa{t: t, apiKey: key}, nil
}

func (c *Caixa) Code() string            { return bank.Caixa }
func (c *Caixa) Name() string            { return "Caixa Econômica Federal" }
func (c *Caixa) AuthMode() bank.AuthMode { return bank.AuthAPIKey }

func (c *Caixa) Capabilities() []bank.Capability {
	return []bank.Capability{bank.CapBalance, bank.CapStatement, bank.CapWebhook, bank.CapAccountStatus, bank.CapAccountDetails}
}

func caixaAccountPath(number string) string {
	return "/contas/v1/" + url.PathEscape(number)
}

// TokenValid is true while the key is configured; the bank rejects a
// revoked key on the next call.
func (c *Caixa) TokenValid(ctx context.Context, acct *bank.Account) (bool, error) {
	return acct.AccessToken == c.apiKey, nil
}

// RefreshToken hands back the configured key with a one-year horizon.
func (c *Caixa) RefreshToken(ctx context.Context, acct *bank.Account) (*bank.Token, error) {
	return &bank.Token{
		AccessToken: c.apiKey,
		TokenType:   "ApiKey",
		ExpiresAt:   c.t.now().AddDate(1, 0, 0),
	}, nil
}

func (c *Caixa) FetchBalance(ctx context.Context, acct *bank.Account) (*bank.Balance, error) {
	if err := c.t.validator.Account(c.Code(), acct.Number); err != nil {
		return nil, err
	}
	var out struct {
		Dados struct {
			Disponivel decimal.Decimal `json:"saldoDisponivel"`
			Total      decimal.Decimal `json:"saldoTotal"`
			Limite     decimal.Decimal `json:"limite"`
		} `json:"dados"`
	}
	_, err := c.t.call(ctx, request{
		op:     "balance",
		method: http.MethodGet,
		path:   caixaAccountPath(acct.Number) + "/saldo",
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &bank.Balance{
		Available:   out.Dados.Disponivel,
		Total:       out.Dados.Total,
		CreditLimit: out.Dados.Limite,
		Currency:    "BRL",
		QueriedAt:   c.t.now(),
	}, nil
}

type caixaEntry struct {
	ID        string          `json:"nsu"`
	Data      string          `json:"dataHora"`
	Valor     decimal.Decimal `json:"valor"`
	Tipo      string          `json:"tipo"`
	Historico string          `json:"historico"`
	Documento string          `json:"documento"`
}

func (e caixaEntry) line() statementLine {
	return statementLine{ID: e.ID, At: e.Data, Amount: e.Valor, Direction: e.Tipo, Description: e.Historico, Document: e.Documento}
}

func (c *Caixa) FetchTransactions(ctx context.Context, acct *bank.Account, start, end time.Time) ([]bank.Transaction, error) {
	if err := c.t.validator.Period(c.Code(), start, end); err != nil {
		return nil, err
	}
	if err := c.t.validator.Account(c.Code(), acct.Number); err != nil {
		return nil, err
	}

	var out struct {
		Dados struct {
			Lancamentos []caixaEntry `json:"lancamentos"`
		} `json:"dados"`
	}
	_, err := c.t.call(ctx, request{
		op:     "statement",
		method: http.MethodGet,
		path:   caixaAccountPath(acct.Number) + "/extrato?" + periodQuery("inicio", "fim", start, end),
		out:    &out,
	})
	if err != nil {
		return nil, err
	}

	lines := make([]statementLine, len(out.Dados.Lancamentos))
	for i, e := range out.Dados.Lancamentos {
		lines[i] = e.line()
	}
	return toTransactions(c.t.table, lines)
}

func (c *Caixa) RegisterWebhook(ctx context.Context, acct *bank.Account, webhookURL string) (bool, error) {
	if err := c.t.validator.WebhookURL(c.Code(), webhookURL); err != nil {
		return false, err
	}
	var out struct {
		Registrado bool `json:"registrado"`
	}
	_, err := c.t.call(ctx, request{
		op:     "webhook",
		method: http.MethodPost,
		path:   "/webhooks/v1/configuracao",
		body: map[string]any{
			"conta":   acct.Number,
			"url":     webhookURL,
			"eventos": webhookEvents,
		},
		out: &out,
	})
	if err != nil {
		return false, err
	}
	return out.Registrado, nil
}

func (c *Caixa) CheckAccountActive(ctx context.Context, acct *bank.Account) (bool, error) {
	if err := c.t.validator.Account(c.Code(), acct.Number); err != nil {
		return false, err
	}
	var out struct {
		Dados struct {
			Situacao string `json:"situacao"`
		} `json:"dados"`
	}
	_, err := c.t.call(ctx, request{
		op:     "account_status",
		method: http.MethodGet,
		path:   caixaAccountPath(acct.Number) + "/status",
		out:    &out,
	})
	if err != nil {
		return false, err
	}
	return isActive(out.Dados.Situacao), nil
}

func (c *Caixa) FetchAccountDetails(ctx context.Context, branch, number string) (*bank.AccountDetails, error) {
	if err := c.t.validator.Branch(c.Code(), branch); err != nil {
		return nil, err
	}
	if err := c.t.validator.Account(c.Code(), number); err != nil {
		return nil, err
	}
	var out struct {
		Dados struct {
			Agencia   string `json:"agencia"`
			Conta     string `json:"conta"`
			Tipo      string `json:"tipo"`
			Titular   string `json:"titular"`
			Documento string `json:"documento"`
			Situacao  string `json:"situacao"`
		} `json:"dados"`
	}
	_, err := c.t.call(ctx, request{
		op:     "account_details",
		method: http.MethodGet,
		path:   caixaAccountPath(number) + "?agencia=" + url.QueryEscape(branch),
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	d := out.Dados
	return &bank.AccountDetails{
		Branch:     d.Agencia,
		Number:     d.Conta,
		Kind:       accountKind(d.Tipo),
		HolderName: d.Titular,
		HolderDoc:  d.Documento,
		Active:     isActive(d.Situacao),
	}, nil
}

type caixaWebhook struct {
	Evento string `json:"evento"`
	Conta  string `json:"conta"`
	Dados  struct {
		caixaEntry
		Agencia string           `json:"agencia"`
		Saldo   *decimal.Decimal `json:"saldo"`
	} `json:"dados"`
}

func (c *Caixa) ParseWebhook(payload []byte) (*bank.WebhookEvent, error) {
	var w caixaWebhook
	if err := decodeWebhook(c.t.table, payload, &w); err != nil {
		return nil, err
	}

	ev := &bank.WebhookEvent{Type: eventType(w.Evento), Branch: w.Dados.Agencia, AccountNumber: w.Conta, Raw: payload}
	switch ev.Type {
	case bank.EventTransactionPosted:
		tx, err := toTransaction(c.t.table, w.Dados.line())
		if err != nil {
			return nil, err
		}
		ev.Transaction = &tx
	case bank.EventBalanceUpdated:
		if w.Dados.Saldo == nil {
			return nil, c.t.table.ErrorFor(bank.KindInvalidData, "balance event without saldo", nil)
		}
		ev.Balance = &bank.Balance{Available: *w.Dados.Saldo, Total: *w.Dados.Saldo, Currency: "BRL", QueriedAt: c.t.now()}
	}
	return ev, nil
}
