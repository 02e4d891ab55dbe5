package store

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	gocache "github.com/patrickmn/go-cache"
)

// Substrate is the retention layer under a Cache. It decides how long an
// unwatched entry survives; watched entries are kept alive by the Cache
// regardless of what the substrate evicts.
//
// The evict handler may run on any goroutine, including inside Set, and must
// not call back into the substrate.
type Substrate interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Items() map[string]any
	Len() int
	SetEvictHandler(fn func(key string, value any))
}

const (
	// DefaultTTL is how long an unwatched entry is retained after its last use.
	DefaultTTL = 5 * time.Minute
	// DefaultCleanupInterval is how often expired entries are purged.
	DefaultCleanupInterval = time.Minute
)

type ttlSubstrate struct {
	c *gocache.Cache
}

// NewTTLSubstrate retains entries for ttl after their last Set. Expired
// entries are purged every cleanup interval.
func NewTTLSubstrate(ttl, cleanup time.Duration) Substrate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanup <= 0 {
		cleanup = DefaultCleanupInterval
	}
	return &ttlSubstrate{c: gocache.New(ttl, cleanup)}
}

func (s *ttlSubstrate) Get(key string) (any, bool) { return s.c.Get(key) }

func (s *ttlSubstrate) Set(key string, value any) { s.c.SetDefault(key, value) }

func (s *ttlSubstrate) Delete(key string) { s.c.Delete(key) }

func (s *ttlSubstrate) Len() int { return s.c.ItemCount() }

func (s *ttlSubstrate) Items() map[string]any {
	items := s.c.Items()
	out := make(map[string]any, len(items))
	for k, item := range items {
		out[k] = item.Object
	}
	return out
}

func (s *ttlSubstrate) SetEvictHandler(fn func(key string, value any)) {
	s.c.OnEvicted(fn)
}

type lruSubstrate struct {
	c *lru.Cache

	mu      sync.RWMutex
	onEvict func(key string, value any)
}

// NewLRUSubstrate retains at most size entries, evicting the least recently
// used one first.
func NewLRUSubstrate(size int) (Substrate, error) {
	s := &lruSubstrate{}
	c, err := lru.NewWithEvict(size, func(key, value interface{}) {
		s.mu.RLock()
		fn := s.onEvict
		s.mu.RUnlock()
		if fn != nil {
			fn(key.(string), value)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("store: lru substrate: %w", err)
	}
	s.c = c
	return s, nil
}

func (s *lruSubstrate) Get(key string) (any, bool) { return s.c.Get(key) }

func (s *lruSubstrate) Set(key string, value any) { s.c.Add(key, value) }

func (s *lruSubstrate) Delete(key string) { s.c.Remove(key) }

func (s *lruSubstrate) Len() int { return s.c.Len() }

func (s *lruSubstrate) Items() map[string]any {
	keys := s.c.Keys()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.c.Peek(k); ok {
			out[k.(string)] = v
		}
	}
	return out
}

func (s *lruSubstrate) SetEvictHandler(fn func(key string, value any)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}
