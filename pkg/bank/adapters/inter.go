package adapters

import (
	"context"
	"net/http"
	"time"

	"bank-recon/pkg/bank"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2/clientcredentials"
)

// Inter talks to the Banco Inter banking API. The account is implied by the
// client certificate, so paths carry no account segment.
type Inter struct {
	t  *transport
	cc *clientcredentials.Config
}

var _ bank.Gateway = (*Inter)(nil)

// NewInter creates the 077 adapter.
func NewInter(config Config) (*Inter, error) {
	t, err := newTransport(bank.Inter, "inter", config)
	if err != nil {
		return nil, err
	}
	return &Inter{t: t, cc: oauthConfig(config, "/oauth/v2/token", []string{"extrato.read"})}, nil
}

func (n *Inter) Code() string            { return bank.Inter }
func (n *Inter) Name() string            { return "Banco Inter" }
func (n *Inter) AuthMode() bank.AuthMode { return bank.AuthCertificate }

func (n *Inter) Capabilities() []bank.Capability {
	return []bank.Capability{bank.CapBalance, bank.CapStatement, bank.CapWebhook, bank.CapAccountStatus, bank.CapAccountDetails}
}

func (n *Inter) TokenValid(ctx context.Context, acct *bank.Account) (bool, error) {
	return !n.t.tokenExpired(acct), nil
}

func (n *Inter) RefreshToken(ctx context.Context, acct *bank.Account) (*bank.Token, error) {
	return n.t.clientCredentials(ctx, n.cc)
}

func (n *Inter) FetchBalance(ctx context.Context, acct *bank.Account) (*bank.Balance, error) {
	var out struct {
		Disponivel      decimal.Decimal `json:"disponivel"`
		BloqueadoCheque decimal.Decimal `json:"bloqueadoCheque"`
		BloqueadoJudic  decimal.Decimal `json:"bloqueadoJudicialmente"`
		Limite          decimal.Decimal `json:"limite"`
	}
	_, err := n.t.call(ctx, request{
		op:     "balance",
		method: http.MethodGet,
		path:   "/banking/v2/saldo",
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &bank.Balance{
		Available:   out.Disponivel,
		Total:       out.Disponivel.Add(out.BloqueadoCheque).Add(out.BloqueadoJudic),
		CreditLimit: out.Limite,
		Currency:    "BRL",
		QueriedAt:   n.t.now(),
	}, nil
}

type interEntry struct {
	ID           string          `json:"idTransacao"`
	DataEntrada  string          `json:"dataEntrada"`
	Valor        decimal.Decimal `json:"valor"`
	TipoOperacao string          `json:"tipoOperacao"`
	Titulo       string          `json:"titulo"`
	Descricao    string          `json:"descricao"`
	Documento    string          `json:"numeroDocumento"`
}

func (e interEntry) line() statementLine {
	desc := e.Descricao
	if desc == "" {
		desc = e.Titulo
	}
	return statementLine{ID: e.ID, At: e.DataEntrada, Amount: e.Valor, Direction: e.TipoOperacao, Description: desc, Document: e.Documento}
}

func (n *Inter) FetchTransactions(ctx context.Context, acct *bank.Account, start, end time.Time) ([]bank.Transaction, error) {
	if err := n.t.validator.Period(n.Code(), start, end); err != nil {
		return nil, err
	}

	var out struct {
		Transacoes []interEntry `json:"transacoes"`
	}
	_, err := n.t.call(ctx, request{
		op:     "statement",
		method: http.MethodGet,
		path:   "/banking/v2/extrato?" + periodQuery("dataInicio", "dataFim", start, end),
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
	return toTransactions(n.t.table, lines)
}

func (n *Inter) RegisterWebhook(ctx context.Context, acct *bank.Account, webhookURL string) (bool, error) {
	if err := n.t.validator.WebhookURL(n.Code(), webhookURL); err != nil {
		return false, err
	}
	status, err := n.t.call(ctx, request{
		op:     "webhook",
		method: http.MethodPut,
		path:   "/webhooks/v2/config",
		token:  acct.AccessToken,
		body:   map[string]any{"webhookUrl": webhookURL},
	})
	if err != nil {
		return false, err
	}
	return status == http.StatusNoContent || status == http.StatusOK || status == http.StatusCreated, nil
}

func (n *Inter) CheckAccountActive(ctx context.Context, acct *bank.Account) (bool, error) {
	var out struct {
		Status string `json:"status"`
	}
	_, err := n.t.call(ctx, request{
		op:     "account_status",
		method: http.MethodGet,
		path:   "/banking/v2/status",
		token:  acct.AccessToken,
		out:    &out,
	})
	if err != nil {
		return false, err
	}
	return isActive(out.Status), nil
}

func (n *Inter) FetchAccountDetails(ctx context.Context, branch, number string) (*bank.AccountDetails, error) {
	if err := n.t.validator.Branch(n.Code(), branch); err != nil {
		return nil, err
	}
	if err := n.t.validator.Account(n.Code(), number); err != nil {
		return nil, err
	}
	var out struct {
		Agencia   string `json:"agencia"`
		Conta     string `json:"conta"`
		Tipo      string `json:"tipoConta"`
		Nome      string `json:"nome"`
		Documento string `json:"cpfCnpj"`
		Status    string `json:"status"`
	}
	_, err := n.t.call(ctx, request{
		op:     "account_details",
		method: http.MethodGet,
		path:   "/banking/v2/conta",
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	if out.Agencia == "" {
		out.Agencia = branch
	}
	if out.Conta == "" {
		out.Conta = number
	}
	return &bank.AccountDetails{
		Branch:     out.Agencia,
		Number:     out.Conta,
		Kind:       accountKind(out.Tipo),
		HolderName: out.Nome,
		HolderDoc:  out.Documento,
		Active:     isActive(out.Status),
	}, nil
}

type interWebhook struct {
	TipoEvento  string `json:"tipoEvento"`
	DadosEvento struct {
		interEntry
		Agencia string           `json:"agencia"`
		Conta   string           `json:"conta"`
		Saldo   *decimal.Decimal `json:"saldo"`
	} `json:"dadosEvento"`
}

func (n *Inter) ParseWebhook(payload []byte) (*bank.WebhookEvent, error) {
	var w interWebhook
	if err := decodeWebhook(n.t.table, payload, &w); err != nil {
		return nil, err
	}

	d := w.DadosEvento
	ev := &bank.WebhookEvent{Type: eventType(w.TipoEvento), Branch: d.Agencia, AccountNumber: d.Conta, Raw: payload}
	switch ev.Type {
	case bank.EventTransactionPosted:
		tx, err := toTransaction(n.t.table, d.line())
		if err != nil {
			return nil, err
		}
		ev.Transaction = &tx
	case bank.EventBalanceUpdated:
		if d.Saldo == nil {
			return nil, n.t.table.ErrorFor(bank.KindInvalidData, "balance event without saldo", nil)
		}
		ev.Balance = &bank.Balance{Available: *d.Saldo, Total: *d.Saldo, Currency: "BRL", QueriedAt: n.t.now()}
	}
	return ev, nil
}
