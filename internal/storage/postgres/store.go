// Package postgres implements the networked (multi-user) SKCD backend on
// top of github.com/lib/pq. It is the multi-user half of C1 (backend driver
// abstraction): PostgreSQL's own MVCC is the correctness oracle for
// concurrent readers, and an explicit SHARE ROW EXCLUSIVE table lock
// serializes aggregate-score writers (§4.6). Connection-time failures are
// classified per §6.3 via storage.ClassifyConnectError.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sk8/skcd/internal/eventbus"
	"github.com/sk8/skcd/internal/retry"
	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/storage/closeguard"
)

var (
	tracer = otel.Tracer("skcd/storage/postgres")
	meter  = otel.Meter("skcd/storage/postgres")

	retryCount metric.Int64Counter
)

func init() {
	retryCount, _ = meter.Int64Counter("skcd.postgres.retry_total")
}

// Store is the networked-backend case handle: one connection pool (borrowed
// from database/sql, no process-wide write lock), one event bus, one
// artifact-id strategy (BIGSERIAL, read back via RETURNING).
type Store struct {
	db     *sql.DB
	bus    *eventbus.Bus
	desc   storage.ConnDescriptor
	carved *carvedFilesTracker

	// examinerID is resolved once at case-open from the host OS account
	// name and attached to every tag insert (§4.7), mirroring the embedded
	// backend; there is no per-process cache asymmetry here since every
	// networked case handle still belongs to one examiner's client process.
	examinerID int64
}

// Config configures a new networked case.
type Config struct {
	Desc     storage.ConnDescriptor
	ReadOnly bool
}

// New dials the configured PostgreSQL server, probing with a short timeout
// first (per §6.3) so connect failures classify cleanly, then opens (or
// attaches to) the case database and ensures its schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	ctx, span := tracer.Start(ctx, "postgres.New")
	defer span.End()

	if err := cfg.Desc.Validate(); err != nil {
		return nil, err
	}

	if err := probe(ctx, cfg.Desc); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.Desc.CaseURL("postgres"))
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classifyPing(err, cfg.Desc)
	}

	s := &Store{db: db, bus: eventbus.New(), desc: cfg.Desc, carved: newCarvedFilesTracker()}

	if !cfg.ReadOnly {
		if err := s.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := s.resolveExaminer(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// probe opens a short-lived connection to the server (not the case
// database) to classify connect-time failures before committing to the
// full open, mirroring the teacher's server-mode init-connection step.
func probe(ctx context.Context, desc storage.ConnDescriptor) error {
	probeDB, err := sql.Open("postgres", desc.ProbeURL("postgres"))
	if err != nil {
		return fmt.Errorf("postgres: probe open: %w", err)
	}
	defer func() { _ = probeDB.Close() }()

	if err := probeDB.PingContext(ctx); err != nil {
		return classifyPing(err, desc)
	}
	return nil
}

func classifyPing(err error, desc storage.ConnDescriptor) error {
	sqlState := ""
	if pqErr, ok := asPQError(err); ok {
		sqlState = pqErr
	}
	return storage.ClassifyConnectError(sqlState, desc.Host, desc.Port, desc.SSL)
}

// Backend reports BackendNetworked.
func (s *Store) Backend() storage.Backend { return storage.BackendNetworked }

// Close closes the connection pool.
func (s *Store) Close() error {
	return closeguard.CloseWithTimeout("postgres connection pool", s.db.Close)
}

// withRetry runs op, retrying connection-loss classes up to
// retry.NetworkedBudget's policy (§4.2's networked retry table).
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return retry.RunWithRetry(ctx, retry.NetworkedBudget, isRetryableError, func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			retryCount.Add(ctx, 1)
		}
		return err
	})
}

func (s *Store) execContext(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, query string, args ...any) (sql.Result, error) {
	ctx, span := tracer.Start(ctx, "postgres.exec", trace.WithAttributes())
	defer span.End()

	var res sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		res, execErr = execer.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, storage.WrapDBErrorf(err, "exec %q", query)
}

// dbExecutor abstracts *sql.DB/*pgTx so the same insert/update helpers work
// with or without an explicit transaction handle.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(tx storage.Tx) dbExecutor {
	if t, ok := tx.(*pgTx); ok && t != nil {
		return t
	}
	return s.db
}
