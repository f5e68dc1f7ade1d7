package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors for the error taxonomy in §7. Errors that are inherently
// backend-specific (transient-busy, transient-comm) are not sentinels but
// classifier predicates in the sqlite/postgres packages, since what counts
// as transient differs per backend.
var (
	ErrSchemaUnsupported   = errors.New("skcd: stored schema major version exceeds current")
	ErrSchemaCorrupt       = errors.New("skcd: tsk_db_info row missing or unreadable")
	ErrMissingHost         = errors.New("skcd: connection descriptor missing host")
	ErrMissingPort         = errors.New("skcd: connection descriptor missing port")
	ErrMissingUser         = errors.New("skcd: connection descriptor missing user")
	ErrMissingPassword     = errors.New("skcd: connection descriptor missing password")
	ErrConnectionRejected  = errors.New("skcd: connection rejected by server")
	ErrSSL                 = errors.New("skcd: SSL certificate verification failed")
	ErrUnreachable         = errors.New("skcd: host or port unreachable")
	ErrAuth                = errors.New("skcd: authentication failed")
	ErrPrivilege           = errors.New("skcd: insufficient privilege")
	ErrResource            = errors.New("skcd: server out of disk")
	ErrLimit               = errors.New("skcd: server limits exceeded")
	ErrInternal            = errors.New("skcd: server internal error")
	ErrConnectionUnknown   = errors.New("skcd: unknown connection error")
	ErrConstraintViolation = errors.New("skcd: uniqueness or foreign-key violation")
	ErrNotFound            = errors.New("skcd: not found")
	ErrInvalidArgument     = errors.New("skcd: invalid argument")
	ErrIO                  = errors.New("skcd: io failure")
	ErrReentrantTx         = errors.New("skcd: transaction already open on this thread")
)

// WrapDBError translates a database/sql error into the §7 taxonomy, folding
// sql.ErrNoRows into ErrNotFound so callers can uniformly
// errors.Is(err, storage.ErrNotFound).
func WrapDBError(err error, context string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", context, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", context, err)
}

// WrapDBErrorf is WrapDBError with a formatted context string.
func WrapDBErrorf(err error, format string, args ...any) error {
	return WrapDBError(err, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConstraintViolation reports whether err is or wraps ErrConstraintViolation.
func IsConstraintViolation(err error) bool { return errors.Is(err, ErrConstraintViolation) }
