package bank

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultMaxStatementSpan bounds a single statement query.
const DefaultMaxStatementSpan = 90 * 24 * time.Hour

var (
	accountPattern = regexp.MustCompile(`^\d{1,10}-?\d$`)
	branchPattern  = regexp.MustCompile(`^\d{4}(-\d)?$`)
)

// Validator checks request inputs before any network call is made.
// The zero value uses DefaultMaxStatementSpan.
type Validator struct {
	MaxSpan time.Duration
}

func (v Validator) maxSpan() time.Duration {
	if v.MaxSpan <= 0 {
		return DefaultMaxStatementSpan
	}
	return v.MaxSpan
}

// Account validates an account number (NNNNNNNNNN-D, dash optional).
func (v Validator) Account(bankCode, number string) error {
	if !accountPattern.MatchString(number) {
		return Invalid(bankCode, CodeAccountInvalid, "invalid account number",
			"account number must follow the pattern NNNNNNNNNN-D")
	}
	return nil
}

// Branch validates a branch number (NNNN or NNNN-D).
func (v Validator) Branch(bankCode, branch string) error {
	if !branchPattern.MatchString(branch) {
		return Invalid(bankCode, CodeBranchInvalid, "invalid branch number",
			"branch number must follow the pattern NNNN or NNNN-D")
	}
	return nil
}

// Period validates a statement window: both ends set, start <= end, and
// end no later than start plus the maximum span.
func (v Validator) Period(bankCode string, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return Invalid(bankCode, CodePeriodMissing, "invalid query dates",
			"start and end dates are required")
	}
	if start.After(end) {
		return Invalid(bankCode, CodePeriodInverted, "invalid query period",
			"start date must not be after end date")
	}
	if start.Add(v.maxSpan()).Before(end) {
		return Invalid(bankCode, CodePeriodTooLong, "query period too long",
			fmt.Sprintf("maximum query period is %d days", int(v.maxSpan().Hours()/24)))
	}
	return nil
}

// WebhookURL requires a non-blank absolute URL.
func (v Validator) WebhookURL(bankCode, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return Invalid(bankCode, CodeWebhookURLMissing, "invalid webhook URL",
			"webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Invalid(bankCode, CodeWebhookURLInvalid, "malformed webhook URL",
			"webhook URL must be a valid absolute URL")
	}
	return nil
}

// ValidateBanks requires a non-empty list of non-blank bank codes.
func ValidateBanks(codes []string) error {
	if len(codes) == 0 {
		return Invalid("", CodeBankListEmpty, "bank list must not be empty", "")
	}
	for i, c := range codes {
		if strings.TrimSpace(c) == "" {
			return Invalid("", CodeBankListInvalidEntry, "bank list contains an invalid entry",
				fmt.Sprintf("entry %d is blank", i))
		}
	}
	return nil
}
