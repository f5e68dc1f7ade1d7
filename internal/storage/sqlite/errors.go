package sqlite

import (
	"errors"
	"strings"

	"github.com/ncruces/go-sqlite3"
)

// isRetryableSQLiteError classifies BUSY(5) and LOCKED(6) as transient per
// §4.2. go-sqlite3 surfaces these as *sqlite3.Error, matched here on its
// primary Code(); we
// also fall back to a string match in case a wrapped driver-level error
// loses the concrete type.
func isRetryableSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.BUSY || code == sqlite3.LOCKED
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
