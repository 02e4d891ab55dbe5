package store

import (
	"context"
	"sync"

	"github.com/Ratio1/collection_sdk_go/internal/metrics"
	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/query"
)

// Subscription is an open change feed bound to one cache key.
type Subscription struct {
	key   query.Key
	store *Store

	once        sync.Once
	cancel      context.CancelFunc
	unsubscribe func()
}

// Key returns the cache key events are applied to.
func (s *Subscription) Key() query.Key {
	return s.key
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.cancel()
		s.store.mu.Lock()
		delete(s.store.subs, s)
		s.store.mu.Unlock()
	})
}

// Subscribe opens the collection's change feed and applies every event to
// the entry cached under params' key, then marks that entry for
// revalidation. Events for a key with no cached data are ignored. The
// subscription lasts until Close, ctx ends, or the store is closed.
func (s *Store) Subscribe(ctx context.Context, params query.Params) (*Subscription, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	key, err := s.Key(params)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{key: key, store: s, cancel: cancel}

	unsubscribe, err := s.backend.Subscribe(subCtx, s.desc.Collection, func(ev collection.ChangeEvent) {
		if subCtx.Err() != nil {
			return
		}
		s.apply(key, ev)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	sub.unsubscribe = unsubscribe

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return nil, ErrClosed
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	s.log.Debugw("subscribed", "collection", s.desc.Collection, "key", key.String())
	return sub, nil
}

func (s *Store) apply(key query.Key, ev collection.ChangeEvent) {
	metrics.ObserveChangeEvent(s.desc.Collection, string(ev.Action))

	e := s.cache.peek(key)
	if e == nil {
		s.log.Debugw("change event for uncached key", "key", key.String(), "action", ev.Action, "id", ev.Record.ID)
		return
	}
	owner, refetch := e.patch(ev)
	if !refetch {
		return
	}
	if fetcher := refetcher(owner, s); fetcher != nil {
		fetcher.startFetch(e)
	}
}
