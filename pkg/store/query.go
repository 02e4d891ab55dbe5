package store

import (
	"context"
	"sync"

	"github.com/Ratio1/collection_sdk_go/pkg/query"
)

// Query is a live handle on one cached query. Handles are cheap; any number
// may point at the same entry. A handle whose entry was evicted follows the
// entry that replaced it.
type Query struct {
	store *Store

	mu    sync.Mutex
	entry *entry
}

// current returns the entry the handle reads, moving to the cache's live
// entry for the key when the handle's own one was replaced.
func (q *Query) current() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if live := q.store.cache.peek(q.entry.key); live != nil {
		q.entry = live
	}
	return q.entry
}

// rebind resolves the handle against the cache, reinstating its entry when
// the key has none.
func (q *Query) rebind(pin bool) *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entry = q.store.cache.resolve(q.entry, pin)
	return q.entry
}

// Key returns the cache key of the handle.
func (q *Query) Key() query.Key {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entry.key
}

// State returns the current state of the entry.
func (q *Query) State() QueryState {
	return q.current().snapshot()
}

// Watch streams state changes. The channel holds at most one pending state:
// a slow reader skips intermediate states and always sees the latest one.
// The current state is delivered immediately. While watched, the entry
// survives cache eviction and refetches as soon as it is invalidated; an
// entry that was evicted before the watch started is fetched again. Call
// stop to release the watch; it closes the channel.
func (q *Query) Watch() (<-chan QueryState, func()) {
	e := q.rebind(true)
	id, ch := e.addWatcher()

	e.mu.Lock()
	fetch := !e.inflight && e.status() == StatusAbsent
	e.mu.Unlock()
	if fetch {
		q.store.startFetch(e)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			e.removeWatcher(id)
			q.store.cache.unpin(e)
		})
	}
	return ch, stop
}

// Await blocks until no fetch is in flight for the entry and returns the
// resulting state.
func (q *Query) Await(ctx context.Context) (QueryState, error) {
	e := q.current()
	for {
		e.mu.Lock()
		if !e.inflight {
			st := e.snapshotLocked()
			e.mu.Unlock()
			return st, nil
		}
		settled := e.settled
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return QueryState{}, ctx.Err()
		case <-settled:
		}
	}
}

// Refetch starts a fresh fetch, superseding one already in flight.
func (q *Query) Refetch() error {
	if q.store.isClosed() {
		return ErrClosed
	}
	q.store.startFetch(q.rebind(false))
	return nil
}
