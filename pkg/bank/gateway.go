package bank

import (
	"context"
	"time"
)

// AuthMode is how an adapter authenticates against its bank.
type AuthMode string

const (
	AuthOAuth2      AuthMode = "oauth2"
	AuthCertificate AuthMode = "certificate"
	AuthAPIKey      AuthMode = "api_key"
)

// Capability names an optional feature of a bank API.
type Capability string

const (
	CapBalance            Capability = "balance"
	CapStatement          Capability = "statement"
	CapWebhook            Capability = "webhook"
	CapAccountStatus      Capability = "account_status"
	CapAccountDetails     Capability = "account_details"
	CapTokenIntrospection Capability = "token_introspection"
)

// Gateway is the uniform contract every bank adapter implements.
// Implementations return only *Error values; transport errors never leak.
type Gateway interface {
	Code() string
	Name() string
	AuthMode() AuthMode
	Capabilities() []Capability

	TokenValid(ctx context.Context, acct *Account) (bool, error)
	RefreshToken(ctx context.Context, acct *Account) (*Token, error)
	FetchBalance(ctx context.Context, acct *Account) (*Balance, error)
	FetchTransactions(ctx context.Context, acct *Account, start, end time.Time) ([]Transaction, error)
	RegisterWebhook(ctx context.Context, acct *Account, url string) (bool, error)
	CheckAccountActive(ctx context.Context, acct *Account) (bool, error)
	FetchAccountDetails(ctx context.Context, branch, number string) (*AccountDetails, error)
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// Supports reports whether g advertises capability c.
func Supports(g Gateway, c Capability) bool {
	for _, have := range g.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}
