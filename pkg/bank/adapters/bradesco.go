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

// Bradesco talks to the Bradesco open API with OAuth2 client credentials.
type Bradesco struct {
	t  *transport
	cc *clientcredentials.Config
}

var _ bank.Gateway = (*Bradesco)(nil)

// NewBradesco creates the 237 adapter.
func NewBradesco(config Config) (*Bradesco, error) {
	t, err := newTransport(bank.Bradesco, "bradesco", config)
	if err != nil {
		return nil, err
	}
	return &Bradesco{
		t:  t,
		cc: oauthConfig(config, "/auth/oauth/v2/token", []string{"extrato.read", "saldo.read"}),
	}, nil
}

func (b *Bradesco) Code() string            { return bank.Bradesco }
func (b *Bradesco) Name() string            { return "Bradesco" }
func (b *Bradesco) AuthMode() bank.AuthMode { return bank.AuthOAuth2 }

func (b *Bradesco) Capabilities() []bank.Capability {
	return []bank.Capability{bank.CapBalance, bank.CapStatement, bank.CapWebhook, bank.CapAccountStatus, bank.CapAccountDetails}
}

func bradescoAccountPath(branch, number string) string {
	return "/v2/contas/" + url.PathEscape(branch+"-"+number)
}

func (b *Bradesco) TokenValid(ctx context.Context, acct *bank.Account) (bool, error) {
	return !b.t.tokenExpired(acct), nil
}

func (b *Bradesco) RefreshToken(ctx context.Context, acct *bank.Account) (*bank.Token, error) {
	return b.t.clientCredentials(ctx, b.cc)
}

func (b *Bradesco) validAccount(branch, number string) error {
	if err := b.t.validator.Branch(b.Code(), branch); err != nil {
		return err
	}
	return b.t.validator.Account(b.Code(), number)
}

func (b *Bradesco) FetchBalance(ctx context.Context, acct *bank.Account) (*bank.Balance, error) {
	if err := b.validAccount(acct.Branch, acct.Number); err != nil {
		return nil, err
	}
	var out struct {
		Disponivel decimal.Decimal `json:"saldoDisponivel"`
		Contabil   decimal.Decimal `json:"saldoContabil"`
		Limite     decimal.Decimal `json:"limiteCredito"`
	}
	_, err := b.t.call(ctx, request{
		op:     "balance",
		method: http.MethodGet,
		path:   bradescoAccountPath(acct.Branch, acct.Number) + "/saldo",
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &bank.Balance{
		Available:   out.Disponivel,
		Total:       out.Contabil,
		CreditLimit: out.Limite,
		Currency:    "BRL",
		QueriedAt:   b.t.now(),
	}, nil
}

type bradescoEntry struct {
	ID        string          `json:"codigoLancamento"`
	Data      string          `json:"dataMovimento"`
	Valor     decimal.Decimal `json:"valor"`
	Natureza  string          `json:"natureza"`
	Historico string          `json:"historico"`
	Documento string          `json:"numeroDocumento"`
}

func (e bradescoEntry) line() statementLine {
	return statementLine{ID: e.ID, At: e.Data, Amount: e.Valor, Direction: e.Natureza, Description: e.Historico, Document: e.Documento}
}

func (b *Bradesco) FetchTransactions(ctx context.Context, acct *bank.Account, start, end time.Time) ([]bank.Transaction, error) {
	if err := b.t.validator.Period(b.Code(), start, end); err != nil {
		return nil, err
	}
	if err := b.validAccount(acct.Branch, acct.Number); err != nil {
		return nil, err
	}

	var out struct {
		Movimentacoes []bradescoEntry `json:"movimentacoes"`
	}
	_, err := b.t.call(ctx, request{
		op:     "statement",
		method: http.MethodGet,
		path:   bradescoAccountPath(acct.Branch, acct.Number) + "/movimentacao?" + periodQuery("dataInicio", "dataFim", start, end),
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}

	lines := make([]statementLine, len(out.Movimentacoes))
	for i, e := range out.Movimentacoes {
		lines[i] = e.line()
	}
	return toTransactions(b.t.table, lines)
}

func (b *Bradesco) RegisterWebhook(ctx context.Context, acct *bank.Account, webhookURL string) (bool, error) {
	if err := b.t.validator.WebhookURL(b.Code(), webhookURL); err != nil {
		return false, err
	}
	status, err := b.t.call(ctx, request{
		op:     "webhook",
		method: http.MethodPost,
		path:   "/v2/webhooks",
		token:  acct.AccessToken,
		body: map[string]any{
			"agencia":    acct.Branch,
			"conta":      acct.Number,
			"urlRetorno": webhookURL,
			"eventos":    webhookEvents,
		},
	})
	if err != nil {
		return false, err
	}
	return status == http.StatusCreated || status == http.StatusOK, nil
}

func (b *Bradesco) CheckAccountActive(ctx context.Context, acct *bank.Account) (bool, error) {
	details, err := b.details(ctx, acct.Branch, acct.Number, acct.AccessToken)
	if err != nil {
		return false, err
	}
	return details.Active, nil
}

func (b *Bradesco) FetchAccountDetails(ctx context.Context, branch, number string) (*bank.AccountDetails, error) {
	return b.details(ctx, branch, number, "")
}

func (b *Bradesco) details(ctx context.Context, branch, number, token string) (*bank.AccountDetails, error) {
	if err := b.validAccount(branch, number); err != nil {
		return nil, err
	}
	var out struct {
		TipoConta string `json:"tipoConta"`
		Titular   struct {
			Nome      string `json:"nome"`
			Documento string `json:"documento"`
		} `json:"titular"`
		Situacao string `json:"situacao"`
	}
	_, err := b.t.call(ctx, request{
		op:     "account_details",
		method: http.MethodGet,
		path:   bradescoAccountPath(branch, number),
		token:  token,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &bank.AccountDetails{
		Branch:     branch,
		Number:     number,
		Kind:       accountKind(out.TipoConta),
		HolderName: out.Titular.Nome,
		HolderDoc:  out.Titular.Documento,
		Active:     isActive(out.Situacao),
	}, nil
}

type bradescoWebhook struct {
	TipoEvento string           `json:"tipoEvento"`
	Agencia    string           `json:"agencia"`
	Conta      string           `json:"conta"`
	Lancamento *bradescoEntry   `json:"lancamento"`
	Saldo      *decimal.Decimal `json:"saldo"`
}

func (b *Bradesco) ParseWebhook(payload []byte) (*bank.WebhookEvent, error) {
	var w bradescoWebhook
	if err := decodeWebhook(b.t.table, payload, &w); err != nil {
		return nil, err
	}

	ev := &bank.WebhookEvent{Type: eventType(w.TipoEvento), Branch: w.Agencia, AccountNumber: w.Conta, Raw: payload}
	switch ev.Type {
	case bank.EventTransactionPosted:
		if w.Lancamento == nil {
			return nil, b.t.table.ErrorFor(bank.KindInvalidData, "transaction event without lancamento", nil)
		}
		tx, err := toTransaction(b.t.table, w.Lancamento.line())
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
