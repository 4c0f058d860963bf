package bank

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the bank-agnostic classification every bank error maps to.
// Calling code branches on Kind, never on the concrete bank.
type Kind int

const (
	// KindInternal is the catch-all for failures nothing else describes.
	KindInternal Kind = iota
	KindAuthentication
	KindCommunication
	KindTimeout
	KindInvalidData
	KindInvalidAccount
	KindInsufficientFunds
	KindLimitExceeded
	KindOffHours
	KindServiceUnavailable
	KindUnsupportedBank
	KindNotFound
	KindInvalidState
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindAuthentication:     "authentication",
	KindCommunication:      "communication",
	KindTimeout:            "timeout",
	KindInvalidData:        "invalid_data",
	KindInvalidAccount:     "invalid_account",
	KindInsufficientFunds:  "insufficient_funds",
	KindLimitExceeded:      "limit_exceeded",
	KindOffHours:           "off_hours",
	KindServiceUnavailable: "service_unavailable",
	KindUnsupportedBank:    "unsupported_bank",
	KindNotFound:           "not_found",
	KindInvalidState:       "invalid_state",
}

// String returns the snake_case name used in logs, metrics and API responses.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// HTTPStatus maps the kind to the status code an HTTP surface should answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindCommunication, KindTimeout, KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidData, KindInvalidAccount, KindUnsupportedBank:
		return http.StatusBadRequest
	case KindInsufficientFunds, KindLimitExceeded, KindOffHours:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single error type crossing the gateway port.
// Bank is empty for bank-agnostic failures (validation, not found, state).
type Error struct {
	Bank    string
	Code    string
	Kind    Kind
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Bank != "" {
		fmt.Fprintf(&b, "bank %s: ", e.Bank)
	}
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels (ErrTimeout, ErrNotFound, ...).
func (e *Error) Is(target error) bool {
	s, ok := target.(kindSentinel)
	return ok && e.Kind == s.kind
}

type kindSentinel struct {
	kind Kind
}

func (s kindSentinel) Error() string {
	return "bank: " + s.kind.String()
}

// Sentinels for errors.Is checks against an *Error's kind.
var (
	ErrInternal           error = kindSentinel{KindInternal}
	ErrAuthentication     error = kindSentinel{KindAuthentication}
	ErrCommunication      error = kindSentinel{KindCommunication}
	ErrTimeout            error = kindSentinel{KindTimeout}
	ErrInvalidData        error = kindSentinel{KindInvalidData}
	ErrInvalidAccount     error = kindSentinel{KindInvalidAccount}
	ErrInsufficientFunds  error = kindSentinel{KindInsufficientFunds}
	ErrLimitExceeded      error = kindSentinel{KindLimitExceeded}
	ErrOffHours           error = kindSentinel{KindOffHours}
	ErrServiceUnavailable error = kindSentinel{KindServiceUnavailable}
	ErrUnsupportedBank    error = kindSentinel{KindUnsupportedBank}
	ErrNotFound           error = kindSentinel{KindNotFound}
	ErrInvalidState       error = kindSentinel{KindInvalidState}
)

// KindOf classifies any error. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// AsError returns the *Error inside err, if any.
func AsError(err error) (*Error, bool) {
	var be *Error
	ok := errors.As(err, &be)
	return be, ok
}

// Validation error codes, one per rule.
const (
	CodeAccountInvalid       = "ACCOUNT_INVALID"
	CodeBranchInvalid        = "BRANCH_INVALID"
	CodePeriodMissing        = "PERIOD_MISSING"
	CodePeriodInverted       = "PERIOD_INVERTED"
	CodePeriodTooLong        = "PERIOD_TOO_LONG"
	CodeWebhookURLMissing    = "WEBHOOK_URL_MISSING"
	CodeWebhookURLInvalid    = "WEBHOOK_URL_INVALID"
	CodeBankListEmpty        = "BANK_LIST_EMPTY"
	CodeBankListInvalidEntry = "BANK_LIST_INVALID_ENTRY"
	CodeScopeInvalid         = "SCOPE_INVALID"
	CodeUnsupportedBank      = "UNSUPPORTED_BANK"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidState         = "INVALID_STATE"
)

// Invalid builds a validation failure for bankCode (may be empty).
func Invalid(bankCode, code, message, detail string) *Error {
	return &Error{Bank: bankCode, Code: code, Kind: KindInvalidData, Message: message, Detail: detail}
}

// UnsupportedBank reports a bank code with no registered gateway.
func UnsupportedBank(code string) *Error {
	return &Error{
		Bank:    code,
		Code:    CodeUnsupportedBank,
		Kind:    KindUnsupportedBank,
		Message: "no integration registered for bank",
		Detail:  code,
	}
}

// NotFound reports a missing record.
func NotFound(entity string, id any) *Error {
	return &Error{
		Code:    CodeNotFound,
		Kind:    KindNotFound,
		Message: entity + " not found",
		Detail:  fmt.Sprint(id),
	}
}

// InvalidState reports an operation attempted from a state that forbids it.
func InvalidState(message string) *Error {
	return &Error{Code: CodeInvalidState, Kind: KindInvalidState, Message: message}
}
