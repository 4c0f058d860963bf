package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bank-recon/pkg/bank"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

// Itau talks to the Itaú API. Calls present a client certificate and carry
// an x-itau-correlationID header.
type Itau struct {
	t  *transport
	cc *clientcredentials.Config
}

var _ bank.Gateway = (*Itau)(nil)

// NewItau creates the 341 adapter. CertFile should point at the keystore
// Itaú issued for the client.
func NewItau(config Config) (*Itau, error) {
	t, err := newTransport(bank.Itau, "itau", config)
	if err != nil {
		return nil, err
	}
	t.decorate = func(req *http.Request) {
		req.Header.Set("x-itau-correlationID", uuid.NewString())
	}
	return &Itau{t: t, cc: oauthConfig(config, "/api/oauth/token", []string{"readonly"})}, nil
}

func (i *Itau) Code() string            { return bank.Itau }
func (i *Itau) Name() string            { return "Itaú Unibanco" }
func (i *Itau) AuthMode() bank.AuthMode { return bank.AuthCertificate }

func (i *Itau) Capabilities() []bank.Capability {
	return []bank.Capability{
		bank.CapBalance, bank.CapStatement, bank.CapWebhook,
		bank.CapAccountStatus, bank.CapAccountDetails, bank.CapTokenIntrospection,
	}
}

// itauAccountPath joins branch and number the way Itaú addresses accounts.
func itauAccountPath(branch, number string) string {
	return "/api/v2/conta-corrente/" + url.PathEscape(branch+strings.ReplaceAll(number, "-", ""))
}

// TokenValid asks the bank to introspect the stored token. A failed
// introspection counts as an invalid token so the caller refreshes.
func (i *Itau) TokenValid(ctx context.Context, acct *bank.Account) (bool, error) {
	if i.t.tokenExpired(acct) {
		return false, nil
	}
	var out struct {
		Active bool `json:"active"`
	}
	_, err := i.t.call(ctx, request{
		op:     "token_introspect",
		method: http.MethodGet,
		path:   "/api/v2/oauth/token/introspect",
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		i.t.logger.Info("token introspection failed, treating token as invalid", zap.Error(err))
		return false, nil
	}
	return out.Active, nil
}

func (i *Itau) RefreshToken(ctx context.Context, acct *bank.Account) (*bank.Token, error) {
	return i.t.clientCredentials(ctx, i.cc)
}

func (i *Itau) FetchBalance(ctx context.Context, acct *bank.Account) (*bank.Balance, error) {
	if err := i.t.validator.Branch(i.Code(), acct.Branch); err != nil {
		return nil, err
	}
	if err := i.t.validator.Account(i.Code(), acct.Number); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			SaldoDisponivel decimal.Decimal `json:"saldo_disponivel"`
			SaldoTotal      decimal.Decimal `json:"saldo_total"`
			Limite          decimal.Decimal `json:"limite_cheque_especial"`
		} `json:"data"`
	}
	_, err := i.t.call(ctx, request{
		op:     "balance",
		method: http.MethodGet,
		path:   itauAccountPath(acct.Branch, acct.Number) + "/saldo",
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &bank.Balance{
		Available:   out.Data.SaldoDisponivel,
		Total:       out.Data.SaldoTotal,
		CreditLimit: out.Data.Limite,
		Currency:    "BRL",
		QueriedAt:   i.t.now(),
	}, nil
}

type itauEntry struct {
	ID        string          `json:"id_lancamento"`
	Data      string          `json:"data_lancamento"`
	Valor     decimal.Decimal `json:"valor"`
	Tipo      string          `json:"tipo_operacao"`
	Descricao string          `json:"descricao"`
	Documento string          `json:"numero_documento"`
}

func (e itauEntry) line() statementLine {
	return statementLine{ID: e.ID, At: e.Data, Amount: e.Valor, Direction: e.Tipo, Description: e.Descricao, Document: e.Documento}
}

func (i *Itau) FetchTransactions(ctx context.Context, acct *bank.Account, start, end time.Time) ([]bank.Transaction, error) {
	if err := i.t.validator.Period(i.Code(), start, end); err != nil {
		return nil, err
	}
	if err := i.t.validator.Branch(i.Code(), acct.Branch); err != nil {
		return nil, err
	}
	if err := i.t.validator.Account(i.Code(), acct.Number); err != nil {
		return nil, err
	}

	var out struct {
		Lancamentos []itauEntry `json:"lancamentos"`
	}
	_, err := i.t.call(ctx, request{
		op:     "statement",
		method: http.MethodGet,
		path:   itauAccountPath(acct.Branch, acct.Number) + "/extrato?" + periodQuery("data_inicial", "data_final", start, end),
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}

	lines := make([]statementLine, len(out.Lancamentos))
	for n, e := range out.Lancamentos {
		lines[n] = e.line()
	}
	return toTransactions(i.t.table, lines)
}

func (i *Itau) RegisterWebhook(ctx context.Context, acct *bank.Account, webhookURL string) (bool, error) {
	if err := i.t.validator.WebhookURL(i.Code(), webhookURL); err != nil {
		return false, err
	}
	status, err := i.t.call(ctx, request{
		op:     "webhook",
		method: http.MethodPost,
		path:   "/api/v2/webhooks",
		token:  acct.AccessToken,
		body: map[string]any{
			"agencia": acct.Branch,
			"conta":   acct.Number,
			"url":     webhookURL,
			"eventos": webhookEvents,
		},
	})
	if err != nil {
		return false, err
	}
	return status == http.StatusCreated || status == http.StatusOK, nil
}

func (i *Itau) CheckAccountActive(ctx context.Context, acct *bank.Account) (bool, error) {
	details, err := i.details(ctx, acct.Branch, acct.Number, acct.AccessToken)
	if err != nil {
		return false, err
	}
	return details.Active, nil
}

func (i *Itau) FetchAccountDetails(ctx context.Context, branch, number string) (*bank.AccountDetails, error) {
	return i.details(ctx, branch, number, "")
}

func (i *Itau) details(ctx context.Context, branch, number, token string) (*bank.AccountDetails, error) {
	if err := i.t.validator.Branch(i.Code(), branch); err != nil {
		return nil, err
	}
	if err := i.t.validator.Account(i.Code(), number); err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			TipoConta     string `json:"tipo_conta"`
			NomeTitular   string `json:"nome_titular"`
			CPFCNPJ       string `json:"cpf_cnpj"`
			SituacaoConta string `json:"situacao_conta"`
		} `json:"data"`
	}
	_, err := i.t.call(ctx, request{
		op:     "account_details",
		method: http.MethodGet,
		path:   itauAccountPath(branch, number),
		token:  token,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &bank.AccountDetails{
		Branch:     branch,
		Number:     number,
		Kind:       accountKind(out.Data.TipoConta),
		HolderName: out.Data.NomeTitular,
		HolderDoc:  out.Data.CPFCNPJ,
		Active:     isActive(out.Data.SituacaoConta),
	}, nil
}

type itauWebhook struct {
	Evento  string `json:"evento"`
	Agencia string `json:"agencia"`
	Conta   string `json:"conta"`
	Dados   struct {
		itauEntry
		Saldo *decimal.Decimal `json:"saldo"`
	} `json:"dados"`
}

func (i *Itau) ParseWebhook(payload []byte) (*bank.WebhookEvent, error) {
	var w itauWebhook
	if err := decodeWebhook(i.t.table, payload, &w); err != nil {
		return nil, err
	}

	ev := &bank.WebhookEvent{Type: eventType(w.Evento), Branch: w.Agencia, AccountNumber: w.Conta, Raw: payload}
	switch ev.Type {
	case bank.EventTransactionPosted:
		tx, err := toTransaction(i.t.table, w.Dados.line())
		if err != nil {
			return nil, err
		}
		ev.Transaction = &tx
	case bank.EventBalanceUpdated:
		if w.Dados.Saldo == nil {
			return nil, i.t.table.ErrorFor(bank.KindInvalidData, "balance event without saldo", nil)
		}
		ev.Balance = &bank.Balance{Available: *w.Dados.Saldo, Total: *w.Dados.Saldo, Currency: "BRL", QueriedAt: i.t.now()}
	}
	return ev, nil
}
