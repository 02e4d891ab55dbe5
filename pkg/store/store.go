package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ratio1/collection_sdk_go/internal/logger"
	"github.com/Ratio1/collection_sdk_go/internal/metrics"
	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/query"
	"github.com/Ratio1/collection_sdk_go/pkg/retry"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("store: closed")

// QueryResult is the cached value of one query.
type QueryResult = collection.ListResult

// Descriptor declares a resource: the collection it lives in and the fields
// free-text search is matched against.
type Descriptor struct {
	Collection       string
	SearchableFields []string
}

// Retry policies used unless overridden through options.
var (
	DefaultReadPolicy   = retry.Policy{MaxRetries: 3, BaseDelay: 400 * time.Millisecond, Factor: 2}
	DefaultCreatePolicy = retry.Policy{MaxRetries: 2, BaseDelay: 300 * time.Millisecond, Factor: 2}
	DefaultWritePolicy  = retry.Policy{MaxRetries: 2, BaseDelay: 300 * time.Millisecond, Factor: 2}
)

// Option configures a Store.
type Option func(*Store)

// WithCache shares c between stores. Without it each store gets a private
// cache.
func WithCache(c *Cache) Option {
	return func(s *Store) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithExecutor sets the retry executor, which carries the logger and the
// user-facing notifier for terminal failures.
func WithExecutor(e *retry.Executor) Option {
	return func(s *Store) {
		if e != nil {
			s.exec = e
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithReadPolicy overrides the retry policy for list reads.
func WithReadPolicy(p retry.Policy) Option {
	return func(s *Store) { s.readPolicy = p }
}

// WithCreatePolicy overrides the retry policy for creates.
func WithCreatePolicy(p retry.Policy) Option {
	return func(s *Store) { s.createPolicy = p }
}

// WithWritePolicy overrides the retry policy for updates and removals.
func WithWritePolicy(p retry.Policy) Option {
	return func(s *Store) { s.writePolicy = p }
}

// Store exposes cached, retrying, realtime-synchronised operations for one
// resource.
type Store struct {
	backend collection.Backend
	desc    Descriptor
	cache   *Cache
	exec    *retry.Executor
	log     *zap.SugaredLogger

	readPolicy   retry.Policy
	createPolicy retry.Policy
	writePolicy  retry.Policy

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New builds a Store for desc on top of backend.
func New(backend collection.Backend, desc Descriptor, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("store: backend is nil")
	}
	desc.Collection = strings.TrimSpace(desc.Collection)
	if desc.Collection == "" {
		return nil, errors.New("store: descriptor collection is required")
	}
	desc.SearchableFields = append([]string(nil), desc.SearchableFields...)

	s := &Store{
		backend:      backend,
		desc:         desc,
		log:          logger.OrNop(nil),
		readPolicy:   DefaultReadPolicy,
		createPolicy: DefaultCreatePolicy,
		writePolicy:  DefaultWritePolicy,
		subs:         make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache(WithCacheLogger(s.log))
	}
	if s.exec == nil {
		s.exec = retry.NewExecutor(retry.WithLogger(s.log))
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Descriptor returns the resource descriptor.
func (s *Store) Descriptor() Descriptor {
	return s.desc
}

// Cache returns the cache the store reads through.
func (s *Store) Cache() *Cache {
	return s.cache
}

// Key returns the cache key params map to.
func (s *Store) Key(params query.Params) (query.Key, error) {
	n, err := query.Normalize(params, s.desc.SearchableFields)
	if err != nil {
		return query.Key{}, err
	}
	return query.NewKey(s.desc.Collection, n), nil
}

// Read returns a live handle on the cached result for params, starting a
// fetch when the entry is missing, failed or stale. Data already cached stays
// visible while the fetch runs.
func (s *Store) Read(params query.Params) (*Query, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	n, err := query.Normalize(params, s.desc.SearchableFields)
	if err != nil {
		return nil, err
	}
	key := query.NewKey(s.desc.Collection, n)

	e, hit := s.cache.lookup(key, n)
	metrics.ObserveLookup(s.desc.Collection, hit)

	e.mu.Lock()
	fetch := e.needsFetchLocked()
	e.mu.Unlock()
	if fetch {
		s.startFetch(e)
	}
	return &Query{store: s, entry: e}, nil
}

// List reads params and waits for the outcome. It returns the error of the
// latest fetch when that fetch failed, even if older data is cached.
func (s *Store) List(ctx context.Context, params query.Params) (*QueryResult, error) {
	q, err := s.Read(params)
	if err != nil {
		return nil, err
	}
	st, err := q.Await(ctx)
	if err != nil {
		return nil, err
	}
	if st.Err != nil {
		return nil, st.Err
	}
	if st.Result == nil {
		return nil, fmt.Errorf("store: %s: entry evicted before load completed", s.desc.Collection)
	}
	return st.Result, nil
}

// startFetch launches a fetch for e, superseding any fetch in flight.
func (s *Store) startFetch(e *entry) {
	if s.isClosed() {
		return
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	if !e.inflight {
		e.settled = make(chan struct{})
	}
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(s.ctx)
	e.cancel = cancel
	e.inflight = true
	e.owner = s
	e.transitionLocked(eventFetch)
	e.notifyLocked()
	e.mu.Unlock()

	go s.runFetch(ctx, e, gen)
}

func (s *Store) runFetch(ctx context.Context, e *entry, gen uint64) {
	coll := s.desc.Collection
	n := e.norm
	started := time.Now()

	res, err := retry.Do(ctx, s.exec, s.readPolicy, "Fetch "+coll, func(ctx context.Context) (*collection.ListResult, error) {
		return s.backend.List(ctx, coll, n.Page, n.PerPage, collection.ListOptions{Sort: n.Sort, Filter: n.Filter})
	})
	metrics.ObserveFetch(coll, started, err)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		s.log.Debugw("discarding superseded fetch", "key", e.key.String())
		return
	}
	e.cancel = nil
	e.inflight = false

	if err != nil {
		if s.ctx.Err() != nil {
			err = ErrClosed
		}
		e.err = err
		if e.result != nil {
			e.stale = true
			e.transitionLocked(eventKeep)
		} else {
			e.transitionLocked(eventFail)
		}
	} else {
		if res == nil {
			res = &collection.ListResult{}
		}
		if res.Items == nil {
			res.Items = []collection.Record{}
		}
		e.result = res
		e.err = nil
		e.stale = false
		e.updatedAt = time.Now()
		e.transitionLocked(eventSucceed)
	}
	close(e.settled)
	e.notifyLocked()
}

// Create inserts a record and invalidates every cached query of the
// collection.
func (s *Store) Create(ctx context.Context, payload map[string]any) (collection.Record, error) {
	if s.isClosed() {
		return collection.Record{}, ErrClosed
	}
	rec, err := retry.Do(ctx, s.exec, s.createPolicy, "Create "+s.desc.Collection, func(ctx context.Context) (collection.Record, error) {
		return s.backend.Create(ctx, s.desc.Collection, payload)
	})
	if err != nil {
		return collection.Record{}, err
	}
	s.cache.invalidate(s.desc.Collection, s)
	return rec, nil
}

// Update writes rec.Fields to the record rec.ID and invalidates the
// collection.
func (s *Store) Update(ctx context.Context, rec collection.Record) (collection.Record, error) {
	if s.isClosed() {
		return collection.Record{}, ErrClosed
	}
	if strings.TrimSpace(rec.ID) == "" {
		return collection.Record{}, fmt.Errorf("%w: record id is required", collection.ErrInvalidRequest)
	}
	payload := rec.Clone().Fields
	updated, err := retry.Do(ctx, s.exec, s.writePolicy, "Update "+s.desc.Collection, func(ctx context.Context) (collection.Record, error) {
		return s.backend.Update(ctx, s.desc.Collection, rec.ID, payload)
	})
	if err != nil {
		return collection.Record{}, err
	}
	s.cache.invalidate(s.desc.Collection, s)
	return updated, nil
}

// Remove deletes the record id, invalidates the collection and returns id.
func (s *Store) Remove(ctx context.Context, id string) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: record id is required", collection.ErrInvalidRequest)
	}
	_, err := retry.Do(ctx, s.exec, s.writePolicy, "Delete "+s.desc.Collection, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Delete(ctx, s.desc.Collection, id)
	})
	if err != nil {
		return "", err
	}
	s.cache.invalidate(s.desc.Collection, s)
	return id, nil
}

// Close cancels in-flight fetches and ends every subscription. Cached
// entries stay in the cache for other stores sharing it.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	s.cancel()
	return nil
}

// refetcher picks the store that refetches an entry: its last fetcher while
// that store is open, fallback otherwise.
func refetcher(owner, fallback *Store) *Store {
	if owner != nil && !owner.isClosed() {
		return owner
	}
	if fallback != nil && !fallback.isClosed() {
		return fallback
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
