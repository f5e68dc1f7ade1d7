package sqlite

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"
)

// hasChildrenCache is the sparse bitset described in §4.3: a `true` bit
// means "has children with probability 1"; a missing bit means "unknown,
// consult the DB". It is populated once, asynchronously, at case-open by a
// single background worker; concurrent readers block on a countdown latch
// (here, a closed channel) until population finishes.
type hasChildrenCache struct {
	store *Store

	mu   sync.RWMutex // re-entrant in spirit: only ever taken for the duration of a single map op
	bits map[int64]bool

	ready       chan struct{}
	readyClosed sync.Once

	group singleflight.Group
}

func newHasChildrenCache(s *Store) *hasChildrenCache {
	return &hasChildrenCache{
		store: s,
		bits:  make(map[int64]bool),
		ready: make(chan struct{}),
	}
}

// populateAsync launches the single background worker that reads `SELECT
// DISTINCT par_obj_id FROM tsk_objects` and fills the bitset, then counts
// down the latch exactly once.
func (c *hasChildrenCache) populateAsync(ctx context.Context) {
	go func() {
		_, _, _ = c.group.Do("populate", func() (any, error) {
			rows, err := c.store.db.QueryContext(ctx, `SELECT DISTINCT par_obj_id FROM tsk_objects WHERE par_obj_id IS NOT NULL`)
			if err != nil {
				log.Printf("sqlite: has-children populate failed: %v", err)
				c.markReady()
				return nil, err
			}
			defer func() { _ = rows.Close() }()

			c.mu.Lock()
			for rows.Next() {
				var parID int64
				if err := rows.Scan(&parID); err != nil {
					continue
				}
				c.bits[parID] = true
			}
			c.mu.Unlock()

			c.markReady()
			return nil, rows.Err()
		})
	}()
}

func (c *hasChildrenCache) markReady() {
	c.readyClosed.Do(func() { close(c.ready) })
}

// wait blocks until the initial population finishes. Concurrent readers all
// block on the same countdown latch.
func (c *hasChildrenCache) wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// has reports the cached bit for objID, querying the database directly on a
// miss (an optimistic cache: a miss means "unknown", not "false").
func (c *hasChildrenCache) has(ctx context.Context, objID int64) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	c.mu.RLock()
	v, ok := c.bits[objID]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	var count int
	err := c.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tsk_objects WHERE par_obj_id = ?`, objID).Scan(&count)
	if err != nil {
		return false, err
	}
	found := count > 0
	if found {
		c.mu.Lock()
		c.bits[objID] = true
		c.mu.Unlock()
	}
	return found, nil
}

// set marks objID as having at least one child, incrementally (on insert).
func (c *hasChildrenCache) set(objID int64) {
	c.mu.Lock()
	c.bits[objID] = true
	c.mu.Unlock()
}

// reloadSync rebuilds the entire bitset synchronously. Called when a new
// data source is added, per §4.3.
func (c *hasChildrenCache) reloadSync(ctx context.Context) error {
	rows, err := c.store.db.QueryContext(ctx, `SELECT DISTINCT par_obj_id FROM tsk_objects WHERE par_obj_id IS NOT NULL`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	fresh := make(map[int64]bool)
	for rows.Next() {
		var parID int64
		if err := rows.Scan(&parID); err != nil {
			continue
		}
		fresh[parID] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.bits = fresh
	c.mu.Unlock()
	return nil
}
