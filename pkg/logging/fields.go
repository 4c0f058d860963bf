package logging

import (
	"time"

	"go.uber.org/zap"
)

// Field constructors for the identifiers that appear across packages, so the
// same key is used everywhere.

func Bank(code string) zap.Field { return zap.String("bank", code) }

func AccountID(id int64) zap.Field { return zap.Int64("account_id", id) }

func CompanyID(id int64) zap.Field { return zap.Int64("company_id", id) }

func ReconciliationID(id int64) zap.Field { return zap.Int64("reconciliation_id", id) }

// Window logs a closed time window as two RFC3339 strings.
func Window(start, end time.Time) zap.Field {
	return zap.Strings("window", []string{start.Format(time.RFC3339), end.Format(time.RFC3339)})
}

// Mask keeps only the last four characters of value.
func Mask(key, value string) zap.Field {
	switch {
	case value == "":
		return zap.String(key, "")
	case len(value) <= 4:
		return zap.String(key, "****")
	default:
		return zap.String(key, "****"+value[len(value)-4:])
	}
}
