// Package lockmanager implements the process-wide fair read-write lock that
// serializes writers above the embedded (SQLite) backend. It is a no-op on
// the networked backend, which relies on PostgreSQL's own MVCC plus the
// explicit SHARE ROW EXCLUSIVE table lock taken by the scoring aggregator.
package lockmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrLockBusy is returned when a non-blocking acquire fails because another
// case-handle already holds a conflicting lock.
var ErrLockBusy = errors.New("lockmanager: lock busy, held by another case-handle")

var (
	meter        = otel.Meter("skcd/lockmanager")
	lockWaitMs   metric.Int64Histogram
	lockAcquired metric.Int64Counter
)

func init() {
	lockWaitMs, _ = meter.Int64Histogram("skcd.lock.wait_ms")
	lockAcquired, _ = meter.Int64Counter("skcd.lock.acquired_total")
}

// CaseLock is the single process-wide fair read-write lock engaged only for
// single-user (embedded) cases. It wraps an in-process fair RW mutex plus an
// advisory flock on a lock file next to the case database, so that a second
// OS process opening the same embedded database also serializes against it.
//
// "Fair" means: once a writer is waiting, new readers queue behind it rather
// than starving it indefinitely. This is implemented with a ticket queue.
type CaseLock struct {
	path     string
	file     *os.File
	tickets  chan struct{}
	readers  chan struct{}
	noop     bool
}

const lockFileName = "skcd.lock"

// Open prepares the case lock for an embedded case rooted at dbDir. If noop
// is true (networked backend), all Acquire/Release calls are no-ops.
func Open(dbDir string, noop bool) (*CaseLock, error) {
	l := &CaseLock{noop: noop, tickets: make(chan struct{}, 1), readers: make(chan struct{}, 1)}
	l.tickets <- struct{}{}
	l.readers <- struct{}{}
	if noop {
		return l, nil
	}
	if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("lockmanager: create lock dir: %w", err)
	}
	path := filepath.Join(dbDir, lockFileName)
	// #nosec G304 - path is derived from the case's own configured directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lockmanager: open lock file: %w", err)
	}
	l.path = path
	l.file = f
	return l, nil
}

// AcquireWrite blocks until the write lock is held exclusively: no reader and
// no other writer may hold it concurrently. No-op on the networked backend.
func (l *CaseLock) AcquireWrite(ctx context.Context) error {
	if l.noop {
		return nil
	}
	start := time.Now()
	select {
	case <-l.tickets:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.flockBlocking(true); err != nil {
		l.tickets <- struct{}{}
		return err
	}
	lockWaitMs.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(attribute.String("mode", "write")))
	lockAcquired.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "write")))
	return nil
}

// ReleaseWrite releases a previously acquired write lock. Idempotent-safe to
// call once per successful AcquireWrite.
func (l *CaseLock) ReleaseWrite() error {
	if l.noop {
		return nil
	}
	err := l.flockUnlock()
	l.tickets <- struct{}{}
	return err
}

// AcquireRead allows concurrent readers but blocks while a writer holds the
// lock. No-op on the networked backend.
func (l *CaseLock) AcquireRead(ctx context.Context) error {
	if l.noop {
		return nil
	}
	start := time.Now()
	// Fairness: grab and release the writer ticket so a waiting writer is not
	// starved by a continuous stream of readers.
	select {
	case <-l.tickets:
		l.tickets <- struct{}{}
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.flockBlocking(false); err != nil {
		return err
	}
	lockWaitMs.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(attribute.String("mode", "read")))
	lockAcquired.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "read")))
	return nil
}

// ReleaseRead releases a previously acquired read lock.
func (l *CaseLock) ReleaseRead() error {
	if l.noop {
		return nil
	}
	return l.flockUnlock()
}

// Close releases the underlying lock file handle.
func (l *CaseLock) Close() error {
	if l.noop || l.file == nil {
		return nil
	}
	return l.file.Close()
}
