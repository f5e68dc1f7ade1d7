package postgres

import (
	"context"
	"database/sql"
	"sync"

	"github.com/sk8/skcd/internal/eventbus"
	"github.com/sk8/skcd/internal/storage"
)

// pgTx is the networked-backend transaction façade (C10). Unlike the
// embedded backend, many pgTx instances may be open concurrently; there is
// no fair lock and no reentrancy guard, since PostgreSQL's MVCC serializes
// conflicting writers itself (§5).
type pgTx struct {
	store *Store
	tx    *sql.Tx

	id int64

	mu           sync.Mutex
	scoreChanges map[int64]eventbus.Event
	otherEvents  []eventbus.Event
	done         bool
}

var (
	txIDMu sync.Mutex
	txID   int64
)

func nextTxID() int64 {
	txIDMu.Lock()
	defer txIDMu.Unlock()
	txID++
	return txID
}

// Begin implements storage.Case.Begin: a plain database/sql transaction,
// retried on transient connection loss per §4.2's networked policy.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	ctx, span := tracer.Start(ctx, "postgres.Begin")
	defer span.End()

	var tx *sql.Tx
	err := s.withRetry(ctx, func() error {
		var beginErr error
		tx, beginErr = s.db.BeginTx(ctx, nil)
		return beginErr
	})
	if err != nil {
		return nil, storage.WrapDBError(err, "postgres: begin")
	}

	return &pgTx{
		store:        s,
		tx:           tx,
		id:           nextTxID(),
		scoreChanges: make(map[int64]eventbus.Event),
	}, nil
}

func (t *pgTx) ThreadID() int64 { return t.id }

func (t *pgTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}
func (t *pgTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}
func (t *pgTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *pgTx) recordScoreChange(objID int64, e eventbus.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scoreChanges[objID] = e
}

func (t *pgTx) recordEvent(e eventbus.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.otherEvents = append(t.otherEvents, e)
}

// Commit implements storage.Tx.Commit: commit, then fire buffered events
// best-effort (§4.10 item 4).
func (t *pgTx) Commit(ctx context.Context) error {
	defer t.markDone()
	if err := t.tx.Commit(); err != nil {
		return storage.WrapDBError(err, "postgres: commit")
	}

	t.mu.Lock()
	events := make([]eventbus.Event, 0, len(t.scoreChanges)+len(t.otherEvents))
	for _, e := range t.scoreChanges {
		events = append(events, e)
	}
	events = append(events, t.otherEvents...)
	t.mu.Unlock()

	t.store.bus.Publish(ctx, events)
	return nil
}

// Rollback implements storage.Tx.Rollback.
func (t *pgTx) Rollback(ctx context.Context) error {
	defer t.markDone()
	if err := t.tx.Rollback(); err != nil {
		return storage.WrapDBError(err, "postgres: rollback")
	}
	return nil
}

func (t *pgTx) markDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
}

// reopen commits the current transaction, flushes buffered events, and
// opens a fresh transaction on the same handle. Used by the carved-file
// rotation dance (§4.4) when a $CarvedFiles subfolder fills up.
func (t *pgTx) reopen(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return storage.WrapDBError(err, "postgres: commit during carved-folder rotation")
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

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapDBError(err, "postgres: reopen transaction")
	}
	t.tx = tx
	return nil
}

// lockAggregateScoreTable acquires the §4.6 SHARE ROW EXCLUSIVE lock inside
// the current transaction; only one writer may mutate aggregate scores at a
// time, though concurrent readers are unaffected.
func (t *pgTx) lockAggregateScoreTable(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `LOCK TABLE ONLY tsk_aggregate_score IN SHARE ROW EXCLUSIVE MODE`)
	return storage.WrapDBError(err, "postgres: lock tsk_aggregate_score")
}
