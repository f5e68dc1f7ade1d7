package storage

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConnDescriptor is the connection descriptor for opening a networked case
// (§6.2). Host, port, user, and password are mandatory; missing any of them
// yields the corresponding typed "missing-..." error.
type ConnDescriptor struct {
	Host             string
	Port             string
	User             string
	Password         string
	SSL              bool
	SSLVerify        bool
	SSLCustomClass   string // optional custom SSL-validation class name
	Database         string
}

// Validate checks the mandatory fields, returning the §6.2 typed errors.
func (d ConnDescriptor) Validate() error {
	if strings.TrimSpace(d.Host) == "" {
		return ErrMissingHost
	}
	if strings.TrimSpace(d.Port) == "" {
		return ErrMissingPort
	}
	if _, err := strconv.Atoi(d.Port); err != nil {
		return fmt.Errorf("%w: port must be numeric", ErrMissingPort)
	}
	if strings.TrimSpace(d.User) == "" {
		return ErrMissingUser
	}
	if d.Password == "" {
		return ErrMissingPassword
	}
	return nil
}

// sslSuffix returns one of the three SSL URL suffixes §6.2 names:
// verify-default, non-verify, or a custom-class variant.
func (d ConnDescriptor) sslSuffix(sep string) string {
	if !d.SSL {
		return ""
	}
	if d.SSLCustomClass != "" {
		return sep + "sslmode=verify-full&sslfactory=" + url.QueryEscape(d.SSLCustomClass)
	}
	if d.SSLVerify {
		return sep + "sslmode=verify-full"
	}
	return sep + "sslmode=require"
}

// ProbeURL builds the reachability-probe connection URL: "<scheme>://<host>:<port>/postgres".
func (d ConnDescriptor) ProbeURL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%s/postgres?connect_timeout=1%s",
		scheme, url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.sslSuffix("&"))
}

// CaseURL builds the case connection URL: "<scheme>://<host>:<port>/<db>",
// with the database name URL-encoded.
func (d ConnDescriptor) CaseURL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%s/%s%s",
		scheme, url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, url.PathEscape(d.Database), d.sslSuffix("?"))
}

// SQLiteConnString builds a SQLite connection string with standard pragmas.
//
// Includes busy_timeout (prevents "database is locked" under concurrency),
// foreign_keys (enforces referential integrity), and time_format pragmas.
// Honors the BD_LOCK_TIMEOUT env var for busy timeout (default 30s).
// If readOnly is true, the connection is opened in read-only mode.
// If path is already a file: URI, pragmas are appended only if absent.
func SQLiteConnString(path string, readOnly bool) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("BD_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	if strings.HasPrefix(path, "file:") {
		conn := path
		sep := "?"
		if strings.Contains(conn, "?") {
			sep = "&"
		}
		if readOnly && !strings.Contains(conn, "mode=") {
			conn += sep + "mode=ro"
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=busy_timeout") {
			conn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, busyMs)
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=foreign_keys") {
			conn += sep + "_pragma=foreign_keys(ON)"
			sep = "&"
		}
		if !strings.Contains(conn, "_time_format=") {
			conn += sep + "_time_format=sqlite"
		}
		return conn
	}

	if readOnly {
		return fmt.Sprintf("file:%s?mode=ro&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_time_format=sqlite", path, busyMs)
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_time_format=sqlite", path, busyMs)
}
