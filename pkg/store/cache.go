package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Ratio1/collection_sdk_go/internal/logger"
	"github.com/Ratio1/collection_sdk_go/internal/metrics"
	"github.com/Ratio1/collection_sdk_go/pkg/query"
)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithSubstrate selects the retention layer. The default is a TTL substrate
// with DefaultTTL.
func WithSubstrate(s Substrate) CacheOption {
	return func(c *Cache) {
		if s != nil {
			c.substrate = s
		}
	}
}

// WithCacheLogger sets the logger used for entry transitions.
func WithCacheLogger(l *zap.SugaredLogger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// Cache maps query keys to entries. One Cache may be shared by any number of
// stores; keys always include the collection, so stores of different
// collections never see each other's entries.
type Cache struct {
	mu        sync.Mutex
	substrate Substrate
	// pinned holds watched entries so substrate eviction cannot drop them.
	pinned map[string]*entry
	log    *zap.SugaredLogger
}

// NewCache builds an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		pinned: make(map[string]*entry),
		log:    logger.OrNop(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.substrate == nil {
		c.substrate = NewTTLSubstrate(DefaultTTL, DefaultCleanupInterval)
	}
	c.substrate.SetEvictHandler(c.onEvict)
	return c
}

// onEvict may run inside substrate calls made while c.mu is held, so it only
// touches the entry itself.
func (c *Cache) onEvict(_ string, value any) {
	e, ok := value.(*entry)
	if !ok || e.watched() {
		return
	}
	e.evict()
}

// lookup returns the entry for key, creating it when absent. The second
// result reports a hit.
func (c *Cache) lookup(key query.Key, norm query.Normalized) (*entry, bool) {
	id := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.pinned[id]; ok {
		return e, true
	}
	if v, ok := c.substrate.Get(id); ok {
		if e, ok := v.(*entry); ok {
			// Re-setting refreshes the retention clock.
			c.substrate.Set(id, e)
			return e, true
		}
	}
	e := newEntry(key, norm, c.log)
	c.substrate.Set(id, e)
	return e, false
}

// peek returns the live entry for key without creating one.
func (c *Cache) peek(key query.Key) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked(key.String())
}

func (c *Cache) currentLocked(id string) *entry {
	if e, ok := c.pinned[id]; ok {
		return e
	}
	if v, ok := c.substrate.Get(id); ok {
		if e, ok := v.(*entry); ok {
			return e
		}
	}
	return nil
}

// resolve returns the entry the cache holds for e's key. A handle whose entry
// was evicted and replaced moves to the replacement; when the key has no
// entry at all, e is put back. With pin set the returned entry is pinned.
func (c *Cache) resolve(e *entry, pin bool) *entry {
	id := e.key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.currentLocked(id)
	if live == nil {
		live = e
		if !pin {
			c.substrate.Set(id, e)
		}
	}
	if pin && live.pins.Add(1) == 1 {
		c.pinned[id] = live
	}
	return live
}

// unpin hands the entry back to the substrate once nobody watches it.
func (c *Cache) unpin(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.pins.Add(-1) > 0 {
		return
	}
	id := e.key.String()
	if c.pinned[id] == e {
		delete(c.pinned, id)
	}
	if v, ok := c.substrate.Get(id); !ok || v != any(e) {
		c.substrate.Set(id, e)
	}
}

func (c *Cache) entries(collection string) []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[*entry]struct{})
	var out []*entry
	add := func(e *entry) {
		if e.key.Collection != collection {
			return
		}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	for _, e := range c.pinned {
		add(e)
	}
	for _, v := range c.substrate.Items() {
		if e, ok := v.(*entry); ok {
			add(e)
		}
	}
	return out
}

// Invalidate marks every entry of collection stale. Watched entries, and
// entries with a fetch in flight, refetch immediately through the store that
// last fetched them, as long as that store is open; the rest refetch on
// their next read. It returns the number of entries touched.
func (c *Cache) Invalidate(collection string) int {
	return c.invalidate(collection, nil)
}

// invalidate is Invalidate with by refetching entries whose last fetcher is
// closed.
func (c *Cache) invalidate(collection string, by *Store) int {
	entries := c.entries(collection)
	for _, e := range entries {
		owner, refetch := e.invalidate()
		if !refetch {
			continue
		}
		if s := refetcher(owner, by); s != nil {
			s.startFetch(e)
		}
	}
	metrics.ObserveInvalidation(collection)
	c.log.Debugw("invalidated collection", "collection", collection, "entries", len(entries))
	return len(entries)
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.substrate.Len()
	for id, e := range c.pinned {
		if v, ok := c.substrate.Get(id); !ok || v != any(e) {
			n++
		}
	}
	return n
}

// Purge drops every entry from the substrate. Watched entries stay
// reachable until their last watcher stops.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.substrate.Items() {
		c.substrate.Delete(id)
	}
}
