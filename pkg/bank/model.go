package bank

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
)

// AccountKind distinguishes checking from savings accounts.
type AccountKind string

const (
	Checking AccountKind = "checking"
	Savings  AccountKind = "savings"
)

// Account is a company's account at an external bank, together with the
// access token used to talk to that bank on its behalf.
type Account struct {
	ID               int64           `json:"id"`
	CompanyID        int64           `json:"company_id"`
	BankCode         string          `json:"bank_code"`
	Branch           string          `json:"branch"`
	Number           string          `json:"number"`
	Kind             AccountKind     `json:"kind"`
	Balance          decimal.Decimal `json:"balance"`
	BalanceUpdatedAt *time.Time      `json:"balance_updated_at,omitempty"`
	AccessToken      string          `json:"-"`
	RefreshToken     string          `json:"-"`
	TokenExpiresAt   *time.Time      `json:"token_expires_at,omitempty"`
	LastSyncAt       *time.Time      `json:"last_sync_at,omitempty"`
}

// ApplyToken stores a freshly issued token on the account.
func (a *Account) ApplyToken(t *Token) {
	a.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		a.RefreshToken = t.RefreshToken
	}
	exp := t.ExpiresAt
	a.TokenExpiresAt = &exp
}

// TokenExpired reports whether the stored token is missing or expires within skew.
func (a *Account) TokenExpired(now time.Time, skew time.Duration) bool {
	if a.AccessToken == "" || a.TokenExpiresAt == nil {
		return true
	}
	return !now.Add(skew).Before(*a.TokenExpiresAt)
}

func (a *Account) String() string {
	return fmt.Sprintf("Account{id=%d company=%d bank=%s branch=%s number=%s token=%s}",
		a.ID, a.CompanyID, a.BankCode, a.Branch, a.Number, MaskSecret(a.AccessToken))
}

// MarshalLogObject keeps tokens out of structured logs.
func (a *Account) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("id", a.ID)
	enc.AddInt64("company_id", a.CompanyID)
	enc.AddString("bank_code", a.BankCode)
	enc.AddString("branch", a.Branch)
	enc.AddString("number", a.Number)
	enc.AddString("access_token", MaskSecret(a.AccessToken))
	enc.AddString("refresh_token", MaskSecret(a.RefreshToken))
	if a.TokenExpiresAt != nil {
		enc.AddTime("token_expires_at", *a.TokenExpiresAt)
	}
	return nil
}

// MaskSecret keeps the last four characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Token is the result of a token exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// Balance is a point-in-time balance reported by a bank.
type Balance struct {
	Available   decimal.Decimal `json:"available"`
	Total       decimal.Decimal `json:"total"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Currency    string          `json:"currency"`
	QueriedAt   time.Time       `json:"queried_at"`
}

// AccountDetails describes an account as the bank sees it.
type AccountDetails struct {
	Branch     string      `json:"branch"`
	Number     string      `json:"number"`
	Kind       AccountKind `json:"kind"`
	HolderName string      `json:"holder_name"`
	HolderDoc  string      `json:"holder_document"`
	Active     bool        `json:"active"`
}

// Direction is the side of a movement.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Valid reports whether d is credit or debit.
func (d Direction) Valid() bool {
	return d == Credit || d == Debit
}

// Signed applies the direction's sign to a positive amount.
func (d Direction) Signed(amount decimal.Decimal) decimal.Decimal {
	if d == Debit {
		return amount.Neg()
	}
	return amount
}

// ParseDirection accepts the spellings banks use for credit and debit.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "C", "c", "CREDITO", "CREDIT", "credito", "credit", "ENTRADA":
		return Credit, true
	case "D", "d", "DEBITO", "DEBIT", "debito", "debit", "SAIDA":
		return Debit, true
	}
	return "", false
}

// Transaction is a movement as reported by the bank.
type Transaction struct {
	ID                  int64           `json:"id"`
	AccountID           int64           `json:"account_id"`
	ExternalID          string          `json:"external_id"`
	Amount              decimal.Decimal `json:"amount"`
	Direction           Direction       `json:"direction"`
	PostedAt            time.Time       `json:"posted_at"`
	Description         string          `json:"description"`
	Document            string          `json:"document,omitempty"`
	Reconciled          bool            `json:"reconciled"`
	ReconciledAt        *time.Time      `json:"reconciled_at,omitempty"`
	SystemTransactionID *int64          `json:"system_transaction_id,omitempty"`
}

// EventType classifies webhook notifications.
type EventType string

const (
	EventTransactionPosted EventType = "transaction_posted"
	EventBalanceUpdated    EventType = "balance_updated"
)

// WebhookEvent is a parsed bank notification. Unknown bank event types are
// kept verbatim in Type.
type WebhookEvent struct {
	Type          EventType
	Branch        string
	AccountNumber string
	Transaction   *Transaction
	Balance       *Balance
	Raw           []byte
}
