package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ratio1/collection_sdk_go/internal/devseed"
	"github.com/Ratio1/collection_sdk_go/internal/filterexpr"
	"github.com/Ratio1/collection_sdk_go/pkg/collection"
)

// Op names a backend operation for failure injection.
type Op string

const (
	OpList      Op = "list"
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpSubscribe Op = "subscribe"
)

// DefaultPerPage applies when List is called with perPage < 1.
const DefaultPerPage = 30

type table struct {
	records map[string]collection.Record
	// order holds ids in insertion order; it breaks sort ties.
	order []string
}

func newTable() *table {
	return &table{records: make(map[string]collection.Record)}
}

func (t *table) remove(id string) {
	delete(t.records, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Mock is an in-memory collection.Backend with filter, sort, paging and a
// per-collection change feed.
type Mock struct {
	mu       sync.RWMutex
	tables   map[string]*table
	subs     map[string]map[uint64]*subscriber
	nextSub  uint64
	failures map[Op][]error

	now     func() time.Time
	newID   func() string
	latency time.Duration
}

// Option configures the mock instance.
type Option func(*Mock)

// WithClock overrides the clock used for created/updated (useful in tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Mock) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithIDGenerator overrides how record ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(m *Mock) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithLatency delays every call by d, honouring ctx.
func WithLatency(d time.Duration) Option {
	return func(m *Mock) {
		m.latency = d
	}
}

// New creates an empty mock backend.
func New(opts ...Option) *Mock {
	m := &Mock{
		tables:   make(map[string]*table),
		subs:     make(map[string]map[uint64]*subscriber),
		failures: make(map[Op][]error),
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNext makes the next n calls of op fail with err.
func (m *Mock) FailNext(op Op, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures[op] = append(m.failures[op], err)
	}
}

// Seed inserts fixture records without emitting change events.
func (m *Mock) Seed(seed devseed.Seed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range seed.Names() {
		for i, fields := range seed.Collections[name] {
			rec, err := m.build(name, fields)
			if err != nil {
				return fmt.Errorf("mock: seed %s[%d]: %w", name, i, err)
			}
			if created, ok := seedTime(fields["created"]); ok {
				rec.Created = created
				rec.Updated = created
			}
			if updated, ok := seedTime(fields["updated"]); ok {
				rec.Updated = updated
			}
			m.insert(name, rec)
		}
	}
	return nil
}

// Records returns a snapshot of collection in insertion order.
func (m *Mock) Records(name string) []collection.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.tables[name]
	if t == nil {
		return nil
	}
	out := make([]collection.Record, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.records[id].Clone())
	}
	return out
}

// Get returns a single record.
func (m *Mock) Get(ctx context.Context, name, id string) (collection.Record, error) {
	if err := m.wait(ctx); err != nil {
		return collection.Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t := m.tables[name]; t != nil {
		if rec, ok := t.records[id]; ok {
			return rec.Clone(), nil
		}
	}
	return collection.Record{}, fmt.Errorf("%w: %s/%s", collection.ErrNotFound, name, id)
}

// List implements collection.Backend.
func (m *Mock) List(ctx context.Context, name string, page, perPage int, opts collection.ListOptions) (*collection.ListResult, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if err := m.consume(OpList); err != nil {
		return nil, err
	}

	expr, err := filterexpr.Parse(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", collection.ErrInvalidRequest, err)
	}
	keys, err := parseSort(opts.Sort)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	m.mu.RLock()
	var matched []collection.Record
	if t := m.tables[name]; t != nil {
		for _, id := range t.order {
			rec := t.records[id]
			if filterexpr.Match(expr, rec.Get) {
				matched = append(matched, rec.Clone())
			}
		}
	}
	m.mu.RUnlock()

	sortRecords(matched, keys)

	total := len(matched)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	items := make([]collection.Record, end-start)
	copy(items, matched[start:end])
	return &collection.ListResult{
		Items:      items,
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// Create implements collection.Backend.
func (m *Mock) Create(ctx context.Context, name string, payload map[string]any) (collection.Record, error) {
	if err := m.wait(ctx); err != nil {
		return collection.Record{}, err
	}
	if err := m.consume(OpCreate); err != nil {
		return collection.Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.build(name, payload)
	if err != nil {
		return collection.Record{}, err
	}
	m.insert(name, rec)
	m.publish(name, collection.ChangeEvent{Action: collection.ActionCreate, Record: rec.Clone()})
	return rec.Clone(), nil
}

// Update implements collection.Backend.
func (m *Mock) Update(ctx context.Context, name, id string, payload map[string]any) (collection.Record, error) {
	if err := m.wait(ctx); err != nil {
		return collection.Record{}, err
	}
	if err := m.consume(OpUpdate); err != nil {
		return collection.Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tables[name]
	if t == nil {
		return collection.Record{}, fmt.Errorf("%w: %s/%s", collection.ErrNotFound, name, id)
	}
	rec, ok := t.records[id]
	if !ok {
		return collection.Record{}, fmt.Errorf("%w: %s/%s", collection.ErrNotFound, name, id)
	}

	rec = rec.Clone()
	if rec.Fields == nil {
		rec.Fields = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		if isSystemField(k) {
			continue
		}
		rec.Fields[k] = v
	}
	rec.Updated = m.stamp()
	t.records[id] = rec
	m.publish(name, collection.ChangeEvent{Action: collection.ActionUpdate, Record: rec.Clone()})
	return rec.Clone(), nil
}

// Delete implements collection.Backend.
func (m *Mock) Delete(ctx context.Context, name, id string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if err := m.consume(OpDelete); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tables[name]
	if t == nil {
		return fmt.Errorf("%w: %s/%s", collection.ErrNotFound, name, id)
	}
	rec, ok := t.records[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", collection.ErrNotFound, name, id)
	}
	t.remove(id)
	m.publish(name, collection.ChangeEvent{Action: collection.ActionDelete, Record: rec.Clone()})
	return nil
}

// Subscribe implements collection.Backend. Each subscription has its own
// delivery goroutine, so a slow handler never blocks writers or other
// subscribers.
func (m *Mock) Subscribe(ctx context.Context, name string, handler collection.Handler) (func(), error) {
	if err := m.consume(OpSubscribe); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscriber(handler)
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	if m.subs[name] == nil {
		m.subs[name] = make(map[uint64]*subscriber)
	}
	m.subs[name][id] = sub
	m.mu.Unlock()

	go func() {
		sub.run(ctx)
		m.mu.Lock()
		delete(m.subs[name], id)
		m.mu.Unlock()
	}()
	return sub.stop, nil
}

// Subscribers reports the number of live subscriptions on a collection.
func (m *Mock) Subscribers(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[name])
}

// build must be called with m.mu held.
func (m *Mock) build(name string, payload map[string]any) (collection.Record, error) {
	if strings.TrimSpace(name) == "" {
		return collection.Record{}, fmt.Errorf("%w: collection name is required", collection.ErrInvalidRequest)
	}
	id := m.newID()
	if raw, ok := payload["id"]; ok {
		s, isString := raw.(string)
		if !isString || strings.TrimSpace(s) == "" {
			return collection.Record{}, fmt.Errorf("%w: id must be a non-empty string", collection.ErrInvalidRequest)
		}
		id = s
	}
	if t := m.tables[name]; t != nil {
		if _, exists := t.records[id]; exists {
			return collection.Record{}, fmt.Errorf("%w: id %q already exists in %s", collection.ErrInvalidRequest, id, name)
		}
	}

	now := m.stamp()
	rec := collection.Record{
		ID:      id,
		Created: now,
		Updated: now,
		Fields:  make(map[string]any, len(payload)),
	}
	for k, v := range payload {
		if isSystemField(k) {
			continue
		}
		rec.Fields[k] = v
	}
	return rec, nil
}

// insert must be called with m.mu held.
func (m *Mock) insert(name string, rec collection.Record) {
	t := m.tables[name]
	if t == nil {
		t = newTable()
		m.tables[name] = t
	}
	t.records[rec.ID] = rec
	t.order = append(t.order, rec.ID)
}

// publish must be called with m.mu held so every subscriber sees writes in
// the order they were applied.
func (m *Mock) publish(name string, ev collection.ChangeEvent) {
	for _, sub := range m.subs[name] {
		sub.push(ev)
	}
}

func (m *Mock) stamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func (m *Mock) consume(op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[op] = queue[1:]
	return err
}

func (m *Mock) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// seedTime accepts both quoted timestamps and the time values YAML resolves
// unquoted ones to.
func seedTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), !x.IsZero()
	case string:
		t, err := collection.ParseTime(x)
		return t, err == nil && !t.IsZero()
	}
	return time.Time{}, false
}

func isSystemField(k string) bool {
	return k == "id" || k == "created" || k == "updated"
}

type sortKey struct {
	field string
	desc  bool
}

func parseSort(expr string) ([]sortKey, error) {
	var keys []sortKey
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := sortKey{field: part}
		switch part[0] {
		case '-':
			key = sortKey{field: strings.TrimSpace(part[1:]), desc: true}
		case '+':
			key = sortKey{field: strings.TrimSpace(part[1:])}
		}
		if key.field == "" {
			return nil, fmt.Errorf("%w: sort: empty field in %q", collection.ErrInvalidRequest, expr)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func sortRecords(records []collection.Record, keys []sortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			a, _ := records[i].Get(k.field)
			b, _ := records[j].Get(k.field)
			cmp := compareValues(a, b)
			if cmp == 0 {
				continue
			}
			if k.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareValues orders nil first, then compares like-typed values; mixed
// types fall back to their printed form.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return compareOrdered(af, bf)
		}
	}
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
