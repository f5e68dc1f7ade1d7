package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// asPQError extracts the SQLSTATE code from err if it is a *pq.Error.
func asPQError(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}

// isRetryableError classifies errors per §4.2's networked retry table: an
// error that carries no SQLSTATE (a driver-level or network failure), a
// connection exception (class 08), or a system error (class XX) is
// retryable; every other SQLSTATE is surfaced immediately. Context
// cancellation and deadline expiry are never retried.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	code, ok := asPQError(err)
	if !ok || code == "" {
		return true
	}
	code = strings.ToUpper(code)
	return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "XX")
}
