package adapters

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"bank-recon/pkg/bank"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Webhook event names shared by the Brazilian bank APIs.
const (
	eventTransaction = "TRANSACAO"
	eventBalance     = "SALDO"
)

var webhookEvents = []string{eventTransaction, eventBalance}

func eventType(raw string) bank.EventType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case eventTransaction, "TRANSACTION":
		return bank.EventTransactionPosted
	case eventBalance, "BALANCE":
		return bank.EventBalanceUpdated
	default:
		return bank.EventType(raw)
	}
}

func oauthConfig(config Config, tokenPath string, scopes []string) *clientcredentials.Config {
	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = strings.TrimSuffix(config.BaseURL, "/") + tokenPath
	}
	if len(config.Scopes) > 0 {
		scopes = config.Scopes
	}
	return &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

// parseTime accepts the timestamp spellings banks send. Zone-less values are UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// statementLine is the bank-neutral form of one statement entry.
type statementLine struct {
	ID          string
	At          string
	Amount      decimal.Decimal
	Direction   string
	Description string
	Document    string
}

// toTransaction normalizes a line. Negative amounts are debits.
func toTransaction(table *bank.CodeTable, l statementLine) (bank.Transaction, error) {
	at, err := parseTime(l.At)
	if err != nil {
		return bank.Transaction{}, table.ErrorFor(bank.KindInvalidData, err.Error(), err)
	}

	amount := l.Amount
	dir, ok := bank.ParseDirection(l.Direction)
	if amount.IsNegative() {
		amount = amount.Neg()
		if !ok {
			dir, ok = bank.Debit, true
		}
	}
	if !ok {
		return bank.Transaction{}, table.ErrorFor(bank.KindInvalidData,
			fmt.Sprintf("unknown direction %q on entry %s", l.Direction, l.ID), nil)
	}

	return bank.Transaction{
		ExternalID:  l.ID,
		Amount:      amount,
		Direction:   dir,
		PostedAt:    at,
		Description: l.Description,
		Document:    l.Document,
	}, nil
}

func toTransactions(table *bank.CodeTable, lines []statementLine) ([]bank.Transaction, error) {
	out := make([]bank.Transaction, 0, len(lines))
	for _, l := range lines {
		t, err := toTransaction(table, l)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func periodQuery(startKey, endKey string, start, end time.Time) string {
	q := url.Values{}
	q.Set(startKey, start.Format(dateLayout))
	q.Set(endKey, end.Format(dateLayout))
	return q.Encode()
}

func accountKind(raw string) bank.AccountKind {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "POUPANCA", "SAVINGS", "CP":
		return bank.Savings
	default:
		return bank.Checking
	}
}

func isActive(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "ATIVA", "ATIVO", "ACTIVE":
		return true
	}
	return false
}

func decodeWebhook(table *bank.CodeTable, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return table.ErrorFor(bank.KindInvalidData, "malformed webhook payload: "+err.Error(), err)
	}
	return nil
}
