package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/query"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusAbsent  Status = "absent"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

const (
	eventFetch   = "fetch"
	eventSucceed = "succeed"
	eventFail    = "fail"
	eventKeep    = "keep"
	eventEvict   = "evict"
)

// QueryState is a point-in-time view of one cached query.
type QueryState struct {
	// Result is nil until the first successful fetch.
	Result    *QueryResult
	Status    Status
	IsLoading bool
	// IsStale is set when the data no longer reflects the backend: after an
	// invalidation, a change event, or a failed refetch.
	IsStale bool
	// Err is the failure of the most recent fetch, if it failed.
	Err       error
	UpdatedAt time.Time
}

// entry holds the cached result for one key. Lock order: Cache.mu before
// entry.mu, never the reverse.
type entry struct {
	key  query.Key
	norm query.Normalized
	log  *zap.SugaredLogger

	// pins counts watchers; a pinned entry survives substrate eviction.
	pins atomic.Int32

	mu        sync.Mutex
	machine   *fsm.FSM
	result    *collection.ListResult
	err       error
	stale     bool
	updatedAt time.Time

	// gen identifies the newest fetch; older fetches discard their results.
	gen      uint64
	inflight bool
	cancel   context.CancelFunc
	settled  chan struct{}
	owner    *Store

	watchers    map[uint64]chan QueryState
	nextWatcher uint64
}

func newEntry(key query.Key, norm query.Normalized, log *zap.SugaredLogger) *entry {
	e := &entry{
		key:      key,
		norm:     norm,
		log:      log,
		settled:  make(chan struct{}),
		watchers: make(map[uint64]chan QueryState),
	}
	close(e.settled)

	e.machine = fsm.NewFSM(
		string(StatusAbsent),
		fsm.Events{
			{Name: eventFetch, Src: []string{string(StatusAbsent), string(StatusReady), string(StatusError)}, Dst: string(StatusLoading)},
			{Name: eventSucceed, Src: []string{string(StatusLoading)}, Dst: string(StatusReady)},
			{Name: eventFail, Src: []string{string(StatusLoading)}, Dst: string(StatusError)},
			{Name: eventKeep, Src: []string{string(StatusLoading)}, Dst: string(StatusReady)},
			{Name: eventEvict, Src: []string{string(StatusAbsent), string(StatusLoading), string(StatusReady), string(StatusError)}, Dst: string(StatusAbsent)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				e.log.Debugw("cache entry transition",
					"key", e.key.String(),
					"event", ev.Event,
					"from", ev.Src,
					"to", ev.Dst)
			},
		},
	)
	return e
}

func (e *entry) status() Status {
	return Status(e.machine.Current())
}

// transitionLocked fires event when the machine allows it. Repeated events
// (a superseding fetch while already loading) are not errors.
func (e *entry) transitionLocked(event string) {
	if !e.machine.Can(event) {
		return
	}
	if err := e.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return
		}
		e.log.Warnw("cache entry transition rejected", "key", e.key.String(), "event", event, "error", err)
	}
}

func (e *entry) snapshotLocked() QueryState {
	status := e.status()
	return QueryState{
		Result:    e.result.Clone(),
		Status:    status,
		IsLoading: status == StatusLoading,
		IsStale:   e.stale,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
	}
}

func (e *entry) snapshot() QueryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// notifyLocked replaces whatever state each watcher has not consumed yet with
// the current one. Only this method sends, always under e.mu, so after the
// drain the one-slot buffer is free.
func (e *entry) notifyLocked() {
	if len(e.watchers) == 0 {
		return
	}
	st := e.snapshotLocked()
	for _, ch := range e.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// needsFetchLocked reports whether a read should trigger a fetch: never
// loaded, last load failed, or stale with nothing in flight.
func (e *entry) needsFetchLocked() bool {
	if e.inflight {
		return false
	}
	switch e.status() {
	case StatusAbsent, StatusError:
		return true
	}
	return e.stale
}

func (e *entry) watched() bool {
	return e.pins.Load() > 0
}

func (e *entry) addWatcher() (uint64, <-chan QueryState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextWatcher++
	id := e.nextWatcher
	ch := make(chan QueryState, 1)
	ch <- e.snapshotLocked()
	e.watchers[id] = ch
	return id, ch
}

func (e *entry) removeWatcher(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.watchers[id]; ok {
		delete(e.watchers, id)
		close(ch)
	}
}

// invalidate marks the entry stale and reports whether it should refetch now:
// when someone is watching, or when an in-flight fetch may predate the change.
func (e *entry) invalidate() (*Store, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status() == StatusAbsent && !e.inflight {
		return nil, false
	}
	e.stale = true
	e.notifyLocked()
	return e.owner, e.watched() || e.inflight
}

// patch applies a change event to the cached items. Entries without data are
// left alone.
func (e *entry) patch(ev collection.ChangeEvent) (*Store, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return nil, false
	}
	next := *e.result
	next.Items = Reconcile(e.result.Items, ev)
	e.result = &next
	e.stale = true
	e.notifyLocked()
	return e.owner, e.watched() || e.inflight
}

// evict runs when the substrate drops an unpinned entry.
func (e *entry) evict() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.inflight {
		e.inflight = false
		close(e.settled)
	}
	e.gen++
	e.result = nil
	e.err = nil
	e.stale = false
	e.transitionLocked(eventEvict)
	e.notifyLocked()
}
