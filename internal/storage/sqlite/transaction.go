package sqlite

import (
	"context"
	"database/sql"
	"log"
	"sync"

	"github.com/sk8/skcd/internal/eventbus"
	"github.com/sk8/skcd/internal/storage"
)

// sqliteTx is the embedded-backend transaction façade (C10). Not reentrant:
// opening a second transaction on a thread that already holds one would
// self-deadlock through the fair lock (§4.10); Begin logs a warning and
// refuses instead of blocking forever.
type sqliteTx struct {
	store *Store
	tx    *sql.Tx
	conn  *sql.Conn

	threadID int64

	mu             sync.Mutex
	scoreChanges   map[int64]eventbus.Event // deduplicated by obj_id
	otherEvents    []eventbus.Event
	done           bool
}

var (
	activeThreadsMu sync.Mutex
	activeThreads   = map[int64]bool{}
)

// Begin implements storage.Case.Begin.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	ctx, span := tracer.Start(ctx, "sqlite.Begin")
	defer span.End()

	if err := s.lock.AcquireWrite(ctx); err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		_ = s.lock.ReleaseWrite()
		return nil, storage.WrapDBError(err, "sqlite: acquire connection")
	}

	if err := s.beginImmediateWithRetry(ctx, conn); err != nil {
		_ = conn.Close()
		_ = s.lock.ReleaseWrite()
		return nil, err
	}

	tid := nextThreadID()
	activeThreadsMu.Lock()
	if activeThreads[tid] {
		activeThreadsMu.Unlock()
		log.Printf("sqlite: transaction already open on thread %d, refusing reentrant begin", tid)
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		_ = conn.Close()
		_ = s.lock.ReleaseWrite()
		return nil, storage.ErrReentrantTx
	}
	activeThreads[tid] = true
	activeThreadsMu.Unlock()

	return &sqliteTx{
		store:        s,
		conn:         conn,
		threadID:     tid,
		scoreChanges: make(map[int64]eventbus.Event),
	}, nil
}

// beginImmediateWithRetry issues BEGIN IMMEDIATE on the dedicated connection,
// retrying BUSY/LOCKED per §4.2. database/sql's BeginTx doesn't expose
// SQLite's transaction modes, so we issue the statement directly on a
// pinned *sql.Conn and wrap the driver's transaction lifecycle by hand.
func (s *Store) beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	return s.withRetry(ctx, func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		return err
	})
}

var threadCounter int64

func nextThreadID() int64 {
	activeThreadsMu.Lock()
	defer activeThreadsMu.Unlock()
	threadCounter++
	return threadCounter
}

func (t *sqliteTx) ThreadID() int64 { return t.threadID }

// ExecContext/QueryContext/QueryRowContext let sqliteTx satisfy dbExecutor by
// delegating to the pinned connection within the open transaction.
func (t *sqliteTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}
func (t *sqliteTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.conn.QueryContext(ctx, query, args...)
}
func (t *sqliteTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.conn.QueryRowContext(ctx, query, args...)
}

// reopen commits the current engine transaction, flushes any buffered events,
// and immediately opens a new transaction on a fresh connection without
// releasing the case write lock. Used by the carved-file rotation dance
// (§4.4) to flush a full $CarvedFiles subfolder before creating the next one.
func (t *sqliteTx) reopen(ctx context.Context) error {
	if _, err := t.conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = t.conn.ExecContext(ctx, "ROLLBACK")
		return storage.WrapDBError(err, "sqlite: commit during carved-folder rotation")
	}

	t.mu.Lock()
	events := make([]eventbus.Event, 0, len(t.scoreChanges)+len(t.otherEvents))
	for _, e := range t.scoreChanges {
		events = append(events, e)
	}
	events = append(events, t.otherEvents...)
	t.scoreChanges = make(map[int64]eventbus.Event)
	t.otherEvents = nil
	t.mu.Unlock()
	t.store.bus.Publish(ctx, events)

	_ = t.conn.Close()
	conn, err := t.store.db.Conn(ctx)
	if err != nil {
		return storage.WrapDBError(err, "sqlite: reacquire connection")
	}
	t.conn = conn
	return t.store.beginImmediateWithRetry(ctx, conn)
}

// recordScoreChange deduplicates by obj_id, keeping the latest score.
func (t *sqliteTx) recordScoreChange(objID int64, e eventbus.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scoreChanges[objID] = e
}

func (t *sqliteTx) recordEvent(e eventbus.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.otherEvents = append(t.otherEvents, e)
}

// Commit implements storage.Tx.Commit: commit the engine transaction,
// release the lock, then fire buffered events (best-effort, §4.10 item 4).
func (t *sqliteTx) Commit(ctx context.Context) error {
	defer t.cleanup()

	if _, err := t.conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = t.conn.ExecContext(ctx, "ROLLBACK")
		return storage.WrapDBError(err, "sqlite: commit")
	}

	t.mu.Lock()
	events := make([]eventbus.Event, 0, len(t.scoreChanges)+len(t.otherEvents))
	for _, e := range t.scoreChanges {
		events = append(events, e)
	}
	events = append(events, t.otherEvents...)
	t.mu.Unlock()

	t.cleanup()
	t.store.bus.Publish(ctx, events)
	return nil
}

// Rollback implements storage.Tx.Rollback: throw-on-failure rollback,
// release the lock, discard buffers.
func (t *sqliteTx) Rollback(ctx context.Context) error {
	defer t.cleanup()
	_, err := t.conn.ExecContext(ctx, "ROLLBACK")
	if err != nil {
		return storage.WrapDBError(err, "sqlite: rollback")
	}
	return nil
}

// cleanup runs on every exit path: releases the connection and the write
// lock, and frees the thread-id diagnostic slot.
func (t *sqliteTx) cleanup() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()

	activeThreadsMu.Lock()
	delete(activeThreads, t.threadID)
	activeThreadsMu.Unlock()

	_ = t.conn.Close()
	_ = t.store.lock.ReleaseWrite()
}
