package bank

import (
	"fmt"
	"strings"
)

// Bank codes (COMPE) of the supported institutions.
const (
	BancoDoBrasil = "001"
	Santander     = "033"
	Inter         = "077"
	Caixa         = "104"
	Bradesco      = "237"
	Itau          = "341"
)

// CodeEntry is one row of a bank's error-code table.
type CodeEntry struct {
	Code    string
	Kind    Kind
	Message string
}

// CodeTable maps a bank's own error codes onto kinds.
// Every table carries a catch-all internal code ending in 999.
type CodeTable struct {
	bank    string
	prefix  string
	entries map[string]CodeEntry
	byKind  map[Kind]string
}

// tableKinds is the layout shared by every bank table: codes 001..011 in this order.
var tableKinds = [...]Kind{
	KindAuthentication,
	KindAuthentication,
	KindAuthentication,
	KindInvalidAccount,
	KindInsufficientFunds,
	KindLimitExceeded,
	KindOffHours,
	KindCommunication,
	KindTimeout,
	KindInvalidData,
	KindServiceUnavailable,
}

func newCodeTable(bank, prefix string, messages [len(tableKinds)]string, internal string) *CodeTable {
	t := &CodeTable{
		bank:    bank,
		prefix:  prefix,
		entries: make(map[string]CodeEntry, len(messages)+1),
		byKind:  make(map[Kind]string),
	}
	for i, msg := range messages {
		code := fmt.Sprintf("%s%03d", prefix, i+1)
		t.add(CodeEntry{Code: code, Kind: tableKinds[i], Message: msg})
	}
	t.add(CodeEntry{Code: prefix + "999", Kind: KindInternal, Message: internal})
	return t
}

func (t *CodeTable) add(e CodeEntry) {
	t.entries[e.Code] = e
	if _, ok := t.byKind[e.Kind]; !ok {
		t.byKind[e.Kind] = e.Code
	}
}

// Bank returns the bank code this table belongs to.
func (t *CodeTable) Bank() string { return t.bank }

// Internal returns the catch-all code (BB999, ITAU999, ...).
func (t *CodeTable) Internal() string { return t.prefix + "999" }

// Lookup finds a code, case-insensitively.
func (t *CodeTable) Lookup(code string) (CodeEntry, bool) {
	e, ok := t.entries[strings.ToUpper(strings.TrimSpace(code))]
	return e, ok
}

// CodeFor returns the first code of the given kind, or the internal code.
func (t *CodeTable) CodeFor(kind Kind) string {
	if code, ok := t.byKind[kind]; ok {
		return code
	}
	return t.Internal()
}

// Error builds an *Error from a bank code. Unknown codes become the internal code
// and the unknown value is kept in the detail.
func (t *CodeTable) Error(code, detail string, cause error) *Error {
	e, ok := t.Lookup(code)
	if !ok {
		if detail == "" {
			detail = "unmapped bank code " + code
		} else {
			detail = detail + " (unmapped bank code " + code + ")"
		}
		e, _ = t.Lookup(t.Internal())
	}
	return &Error{Bank: t.bank, Code: e.Code, Kind: e.Kind, Message: e.Message, Detail: detail, Err: cause}
}

// ErrorFor builds an *Error of the given kind using the bank's code for it.
func (t *CodeTable) ErrorFor(kind Kind, detail string, cause error) *Error {
	return t.Error(t.CodeFor(kind), detail, cause)
}

var tables = map[string]*CodeTable{
	BancoDoBrasil: newCodeTable(BancoDoBrasil, "BB", [...]string{
		"OAuth authentication failed",
		"access token expired",
		"invalid J key",
		"account invalid or not found",
		"insufficient balance for operation",
		"daily limit exceeded",
		"operation not allowed at this time",
		"communication failure with server",
		"operation timed out",
		"invalid transaction data",
		"service temporarily unavailable",
	}, "internal server error"),
	Itau: newCodeTable(Itau, "ITAU", [...]string{
		"certificate authentication failed",
		"digital certificate expired",
		"invalid access key",
		"branch/account not found",
		"insufficient balance",
		"transaction limit exceeded",
		"operation outside allowed hours",
		"communication failure",
		"request timed out",
		"invalid request data",
		"service under maintenance",
	}, "internal error"),
	Bradesco: newCodeTable(Bradesco, "BRAD", [...]string{
		"OAuth authentication failed",
		"access token expired",
		"invalid client credentials",
		"branch/account not found",
		"insufficient balance",
		"transaction limit exceeded",
		"operation outside allowed hours",
		"communication failure",
		"request timed out",
		"invalid request data",
		"service temporarily unavailable",
	}, "internal error"),
	Inter: newCodeTable(Inter, "INTER", [...]string{
		"client certificate rejected",
		"access token expired",
		"invalid client credentials",
		"account not found",
		"insufficient balance",
		"limit exceeded",
		"operation outside allowed hours",
		"communication failure",
		"request timed out",
		"invalid request data",
		"service unavailable",
	}, "internal error"),
	Caixa: newCodeTable(Caixa, "CX", [...]string{
		"API key rejected",
		"API key expired",
		"API key not authorized for resource",
		"account not found",
		"insufficient balance",
		"limit exceeded",
		"operation outside allowed hours",
		"communication failure",
		"request timed out",
		"invalid request data",
		"service unavailable",
	}, "internal error"),
}

// general covers banks with no table of their own.
var general = newCodeTable("", "GEN", [...]string{
	"authentication failed",
	"access token expired",
	"invalid credentials",
	"account invalid or not found",
	"insufficient balance",
	"limit exceeded",
	"operation outside allowed hours",
	"communication failure",
	"request timed out",
	"invalid data",
	"service unavailable",
}, "internal error")

// TableFor returns the bank's code table, falling back to the general table.
func TableFor(bankCode string) *CodeTable {
	if t, ok := tables[bankCode]; ok {
		return t
	}
	return general
}

// LookupCode searches every table, including the general one, for code.
func LookupCode(code string) (CodeEntry, string, bool) {
	for bank, t := range tables {
		if e, ok := t.Lookup(code); ok {
			return e, bank, true
		}
	}
	if e, ok := general.Lookup(code); ok {
		return e, "", true
	}
	return CodeEntry{}, "", false
}
