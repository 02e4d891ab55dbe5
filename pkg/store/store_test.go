package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/collection/mock"
	"github.com/Ratio1/collection_sdk_go/pkg/query"
	"github.com/Ratio1/collection_sdk_go/pkg/retry"
	"github.com/Ratio1/collection_sdk_go/pkg/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errBoom = errors.New("boom")

// countingBackend counts list calls on top of the in-memory backend.
type countingBackend struct {
	*mock.Mock
	lists atomic.Int32
}

func (b *countingBackend) List(ctx context.Context, name string, page, perPage int, opts collection.ListOptions) (*collection.ListResult, error) {
	b.lists.Add(1)
	return b.Mock.List(ctx, name, page, perPage, opts)
}

type noteLog struct {
	mu    sync.Mutex
	notes []retry.Notification
}

func (l *noteLog) Notify(n retry.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = append(l.notes, n)
}

func (l *noteLog) all() []retry.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]retry.Notification(nil), l.notes...)
}

func policy(retries int) retry.Policy {
	return retry.Policy{MaxRetries: retries, BaseDelay: time.Millisecond, Factor: 1}
}

func newMock(t *testing.T, users int) *mock.Mock {
	t.Helper()
	var seq, clock atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := mock.New(
		mock.WithIDGenerator(func() string { return fmt.Sprintf("rec%03d", seq.Add(1)) }),
		mock.WithClock(func() time.Time { return base.Add(time.Duration(clock.Add(1)) * time.Second) }),
	)
	for i := 1; i <= users; i++ {
		_, err := m.Create(context.Background(), "users", map[string]any{
			"name":  fmt.Sprintf("user %02d", i),
			"email": fmt.Sprintf("user%02d@example.com", i),
		})
		require.NoError(t, err)
	}
	return m
}

type fixture struct {
	backend *countingBackend
	store   *store.Store
	notes   *noteLog
}

func newFixture(t *testing.T, opts ...store.Option) *fixture {
	t.Helper()
	f := &fixture{backend: &countingBackend{Mock: newMock(t, 12)}, notes: &noteLog{}}
	f.store = newStore(t, f.backend, f.notes, "users", opts...)
	return f
}

func newStore(t *testing.T, backend collection.Backend, notes retry.Notifier, name string, opts ...store.Option) *store.Store {
	t.Helper()
	exec := retry.NewExecutor(retry.WithNotifier(notes))
	base := []store.Option{
		store.WithExecutor(exec),
		store.WithReadPolicy(policy(1)),
		store.WithCreatePolicy(policy(2)),
		store.WithWritePolicy(policy(2)),
	}
	s, err := store.New(backend, store.Descriptor{Collection: name, SearchableFields: []string{"email", "name"}}, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ids(res *store.QueryResult) []string {
	if res == nil {
		return nil
	}
	return recordIDs(res.Items)
}

func TestNewValidates(t *testing.T) {
	_, err := store.New(nil, store.Descriptor{Collection: "users"})
	assert.Error(t, err)

	_, err = store.New(mock.New(), store.Descriptor{Collection: "  "})
	assert.Error(t, err)
}

func TestListFetchesOnceAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec012", "rec011", "rec010", "rec009", "rec008"}, ids(page))
	assert.Equal(t, 12, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages)

	again, err := f.store.List(ctx, query.Params{Page: 1, PerPage: 5, SortField: "created", SortOrder: query.Descending})
	require.NoError(t, err)
	assert.Equal(t, ids(page), ids(again))
	assert.EqualValues(t, 1, f.backend.lists.Load())
	assert.Equal(t, 1, f.store.Cache().Len())
}

func TestEquivalentParamsShareEntry(t *testing.T) {
	f := newFixture(t)

	a, err := f.store.Read(query.Params{})
	require.NoError(t, err)
	b, err := f.store.Read(query.Params{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, a.Key(), b.Key())

	_, err = a.Await(context.Background())
	require.NoError(t, err)
	st, err := b.Await(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.Result.Items, 10)
	assert.EqualValues(t, 1, f.backend.lists.Load())
}

func TestListSearch(t *testing.T) {
	f := newFixture(t)

	page, err := f.store.List(context.Background(), query.Params{Filter: "user 03"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec003"}, ids(page))

	page, err = f.store.List(context.Background(), query.Params{Filter: "USER07@"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec007"}, ids(page))
}

func TestReadRejectsNegativePaging(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Read(query.Params{Page: -1})
	require.ErrorIs(t, err, query.ErrInvalidPaging)
	_, err = f.store.List(context.Background(), query.Params{PerPage: -3})
	require.ErrorIs(t, err, query.ErrInvalidPaging)
	assert.Zero(t, f.backend.lists.Load())
}

func TestCreateMarksUnwatchedEntriesStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	q, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)

	created, err := f.store.Create(ctx, map[string]any{"name": "newcomer"})
	require.NoError(t, err)
	assert.Equal(t, "newcomer", created.String("name"))

	st := q.State()
	assert.True(t, st.IsStale)
	assert.Equal(t, store.StatusReady, st.Status)
	assert.Equal(t, "rec012", st.Result.Items[0].ID, "stale data stays visible")
	assert.EqualValues(t, 1, f.backend.lists.Load())

	page, err := f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	assert.Equal(t, created.ID, page.Items[0].ID)
	assert.Equal(t, 13, page.TotalItems)
	assert.EqualValues(t, 2, f.backend.lists.Load())
	assert.False(t, q.State().IsStale)
}

func TestCreateRefetchesWatchedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	updates, stop := q.Watch()
	defer stop()
	_, err = q.Await(ctx)
	require.NoError(t, err)

	created, err := f.store.Create(ctx, map[string]any{"name": "newcomer"})
	require.NoError(t, err)

	st := awaitState(t, updates, func(st store.QueryState) bool {
		return st.Status == store.StatusReady && !st.IsStale && st.Result != nil && st.Result.Items[0].ID == created.ID
	})
	assert.Equal(t, 13, st.Result.TotalItems)
	assert.EqualValues(t, 2, f.backend.lists.Load())
}

func TestUpdateAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	q, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)

	target := page.Items[0]
	target.Fields["name"] = "changed"
	updated, err := f.store.Update(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, target.ID, updated.ID)
	assert.Equal(t, "changed", updated.String("name"))
	assert.True(t, q.State().IsStale)

	id, err := f.store.Remove(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, id)

	page, err = f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	assert.NotContains(t, ids(page), target.ID)
	assert.Equal(t, 11, page.TotalItems)

	_, err = f.store.Update(ctx, collection.Record{})
	assert.ErrorIs(t, err, collection.ErrInvalidRequest)
	_, err = f.store.Remove(ctx, " ")
	assert.ErrorIs(t, err, collection.ErrInvalidRequest)
}

func TestRemoveMissingReportsOnce(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Remove(context.Background(), "missing")
	require.ErrorIs(t, err, collection.ErrNotFound)

	var rerr *retry.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Delete users", rerr.Op)
	assert.Equal(t, 3, rerr.Attempts)

	notes := f.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "Delete users", notes[0].Summary)
	assert.Equal(t, retry.SeverityError, notes[0].Severity)
}

func TestCreateFailureAfterRetries(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNext(mock.OpCreate, 3, errBoom)

	_, err := f.store.Create(context.Background(), map[string]any{"name": "x"})
	require.ErrorIs(t, err, errBoom)

	var rerr *retry.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Create users", rerr.Op)
	assert.Equal(t, 3, rerr.Attempts)

	notes := f.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "Create users", notes[0].Summary)
	assert.Equal(t, "boom", notes[0].Detail)
	assert.Len(t, f.backend.Records("users"), 12)
}

func TestCreateRecoversWithinRetries(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNext(mock.OpCreate, 2, errBoom)

	_, err := f.store.Create(context.Background(), map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Empty(t, f.notes.all())
	assert.Len(t, f.backend.Records("users"), 13)
}

func TestFailedRefetchKeepsPreviousData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	q, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)

	f.backend.FailNext(mock.OpList, 2, errBoom)
	require.NoError(t, q.Refetch())
	st, err := q.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, store.StatusReady, st.Status)
	assert.True(t, st.IsStale)
	assert.ErrorIs(t, st.Err, errBoom)
	var rerr *retry.Error
	require.ErrorAs(t, st.Err, &rerr)
	assert.Equal(t, "Fetch users", rerr.Op)
	assert.Equal(t, 2, rerr.Attempts)
	assert.Len(t, st.Result.Items, 5)

	notes := f.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "Fetch users", notes[0].Summary)
	assert.Equal(t, "boom", notes[0].Detail)

	page, err := f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.Nil(t, q.State().Err)
}

func TestFirstLoadFailureThenRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.FailNext(mock.OpList, 2, errBoom)

	_, err := f.store.List(ctx, query.Params{})
	require.ErrorIs(t, err, errBoom)

	q, err := f.store.Read(query.Params{})
	require.NoError(t, err)
	st, err := q.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, st.Status)
	assert.NoError(t, st.Err)
	assert.Len(t, st.Result.Items, 10)
	assert.EqualValues(t, 3, f.backend.lists.Load())
}

func TestErrorStateWithoutData(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNext(mock.OpList, 2, errBoom)

	q, err := f.store.Read(query.Params{})
	require.NoError(t, err)
	st, err := q.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, st.Status)
	assert.Nil(t, st.Result)
	assert.ErrorIs(t, st.Err, errBoom)
}

// gatedBackend blocks the first list call until its context is cancelled.
type gatedBackend struct {
	*mock.Mock
	calls     atomic.Int32
	started   chan struct{}
	abandoned chan struct{}
}

func (b *gatedBackend) List(ctx context.Context, name string, page, perPage int, opts collection.ListOptions) (*collection.ListResult, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
		<-ctx.Done()
		close(b.abandoned)
		return nil, ctx.Err()
	}
	return b.Mock.List(ctx, name, page, perPage, opts)
}

func TestRefetchSupersedesInflightFetch(t *testing.T) {
	backend := &gatedBackend{Mock: newMock(t, 3), started: make(chan struct{}), abandoned: make(chan struct{})}
	notes := &noteLog{}
	s := newStore(t, backend, notes, "users")

	q, err := s.Read(query.Params{})
	require.NoError(t, err)
	<-backend.started
	assert.True(t, q.State().IsLoading)

	require.NoError(t, q.Refetch())
	st, err := q.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, st.Status)
	assert.Len(t, st.Result.Items, 3)

	select {
	case <-backend.abandoned:
	case <-time.After(waitFor):
		t.Fatal("superseded fetch was not cancelled")
	}
	assert.Never(t, func() bool { return len(notes.all()) > 0 || q.State().Status != store.StatusReady }, 50*time.Millisecond, tick)
}

func TestWatchDeliversLatestState(t *testing.T) {
	f := newFixture(t)

	q, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	updates, stop := q.Watch()

	first := <-updates
	assert.Contains(t, []store.Status{store.StatusLoading, store.StatusReady}, first.Status)
	if first.Status == store.StatusLoading {
		awaitState(t, updates, func(st store.QueryState) bool { return st.Status == store.StatusReady })
	}

	stop()
	stop()
	for range updates {
	}
}

func TestSubscribePatchesCachedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	q, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)

	sub, err := f.store.Subscribe(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, q.Key(), sub.Key())

	pushed, err := f.backend.Create(ctx, "users", map[string]any{"name": "pushed"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st := q.State()
		return st.IsStale && len(st.Result.Items) == 6 && st.Result.Items[0].ID == pushed.ID
	}, waitFor, tick)

	_, err = f.backend.Update(ctx, "users", pushed.ID, map[string]any{"name": "renamed"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return q.State().Result.Items[0].String("name") == "renamed"
	}, waitFor, tick)

	require.NoError(t, f.backend.Delete(ctx, "users", pushed.ID))
	require.Eventually(t, func() bool {
		st := q.State()
		return len(st.Result.Items) == 5 && !containsID(st.Result.Items, pushed.ID)
	}, waitFor, tick)

	assert.EqualValues(t, 1, f.backend.lists.Load(), "unwatched entries wait for the next read")
}

func TestSubscribeRefetchesWatchedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	updates, stop := q.Watch()
	defer stop()
	_, err = q.Await(ctx)
	require.NoError(t, err)

	sub, err := f.store.Subscribe(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	defer sub.Close()

	pushed, err := f.backend.Create(ctx, "users", map[string]any{"name": "pushed"})
	require.NoError(t, err)

	st := awaitState(t, updates, func(st store.QueryState) bool {
		return st.Status == store.StatusReady && !st.IsStale && st.Result != nil && st.Result.TotalItems == 13
	})
	assert.Equal(t, pushed.ID, st.Result.Items[0].ID)
	assert.Len(t, st.Result.Items, 5)
}

func TestSubscribeIgnoresUncachedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.store.Subscribe(ctx, query.Params{PerPage: 7})
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.backend.Create(ctx, "users", map[string]any{"name": "pushed"})
	require.NoError(t, err)

	assert.Never(t, func() bool { return f.store.Cache().Len() != 0 }, 50*time.Millisecond, tick)
	assert.Zero(t, f.backend.lists.Load())
}

func TestSubscriptionClose(t *testing.T) {
	f := newFixture(t)

	sub, err := f.store.Subscribe(context.Background(), query.Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.backend.Subscribers("users"))

	sub.Close()
	sub.Close()
	require.Eventually(t, func() bool { return f.backend.Subscribers("users") == 0 }, waitFor, tick)
}

func TestCloseEndsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Subscribe(ctx, query.Params{})
	require.NoError(t, err)
	_, err = f.store.Subscribe(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, f.backend.Subscribers("users"))

	require.NoError(t, f.store.Close())
	require.NoError(t, f.store.Close())
	require.Eventually(t, func() bool { return f.backend.Subscribers("users") == 0 }, waitFor, tick)

	_, err = f.store.Read(query.Params{})
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = f.store.Create(ctx, map[string]any{"name": "x"})
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = f.store.Subscribe(ctx, query.Params{})
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestLRUEviction(t *testing.T) {
	sub, err := store.NewLRUSubstrate(1)
	require.NoError(t, err)
	f := newFixture(t, store.WithCache(store.NewCache(store.WithSubstrate(sub))))
	ctx := context.Background()

	_, err = f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	first, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)

	_, err = f.store.List(ctx, query.Params{PerPage: 6})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Cache().Len())

	st := first.State()
	assert.Equal(t, store.StatusAbsent, st.Status)
	assert.Nil(t, st.Result)

	_, err = f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.backend.lists.Load())
}

func TestWatchedEntrySurvivesEviction(t *testing.T) {
	sub, err := store.NewLRUSubstrate(1)
	require.NoError(t, err)
	f := newFixture(t, store.WithCache(store.NewCache(store.WithSubstrate(sub))))
	ctx := context.Background()

	watched, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	_, stop := watched.Watch()
	defer stop()
	_, err = watched.Await(ctx)
	require.NoError(t, err)

	_, err = f.store.List(ctx, query.Params{PerPage: 6})
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, watched.State().Status)

	_, err = f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.backend.lists.Load())
}

func TestTTLEviction(t *testing.T) {
	cache := store.NewCache(store.WithSubstrate(store.NewTTLSubstrate(30*time.Millisecond, 10*time.Millisecond)))
	f := newFixture(t, store.WithCache(cache))

	_, err := f.store.List(context.Background(), query.Params{})
	require.NoError(t, err)
	q, err := f.store.Read(query.Params{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.State().Status == store.StatusAbsent }, waitFor, tick)
	assert.Zero(t, cache.Len())
}

func TestWatchFollowsEntryThatReplacedEvictedOne(t *testing.T) {
	sub, err := store.NewLRUSubstrate(1)
	require.NoError(t, err)
	f := newFixture(t, store.WithCache(store.NewCache(store.WithSubstrate(sub))))
	ctx := context.Background()

	old, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	_, err = old.Await(ctx)
	require.NoError(t, err)
	_, err = f.store.List(ctx, query.Params{PerPage: 6})
	require.NoError(t, err)

	live, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	_, err = live.Await(ctx)
	require.NoError(t, err)

	updates, stop := old.Watch()
	defer stop()
	awaitState(t, updates, func(st store.QueryState) bool {
		return st.Status == store.StatusReady && st.Result != nil
	})
	assert.Equal(t, 1, f.store.Cache().Len())
	assert.EqualValues(t, 3, f.backend.lists.Load())

	created, err := f.store.Create(ctx, map[string]any{"name": "newcomer"})
	require.NoError(t, err)
	st := awaitState(t, updates, func(st store.QueryState) bool {
		return st.Status == store.StatusReady && !st.IsStale && st.Result != nil && st.Result.TotalItems == 13
	})
	assert.Equal(t, created.ID, st.Result.Items[0].ID)
	current := live.State()
	assert.False(t, current.IsStale)
	assert.Equal(t, created.ID, current.Result.Items[0].ID)
}

func TestWatchRefetchesEvictedEntry(t *testing.T) {
	sub, err := store.NewLRUSubstrate(1)
	require.NoError(t, err)
	f := newFixture(t, store.WithCache(store.NewCache(store.WithSubstrate(sub))))
	ctx := context.Background()

	q, err := f.store.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	_, err = q.Await(ctx)
	require.NoError(t, err)
	_, err = f.store.List(ctx, query.Params{PerPage: 6})
	require.NoError(t, err)
	require.Equal(t, store.StatusAbsent, q.State().Status)

	updates, stop := q.Watch()
	defer stop()
	st := awaitState(t, updates, func(st store.QueryState) bool {
		return st.Status == store.StatusReady && st.Result != nil
	})
	assert.Len(t, st.Result.Items, 5)
	assert.EqualValues(t, 3, f.backend.lists.Load())

	_, err = f.store.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.backend.lists.Load())
}

func TestSharedCacheAcrossCollections(t *testing.T) {
	backend := &countingBackend{Mock: newMock(t, 3)}
	_, err := backend.Create(context.Background(), "posts", map[string]any{"title": "hello"})
	require.NoError(t, err)

	cache := store.NewCache()
	notes := &noteLog{}
	users := newStore(t, backend, notes, "users", store.WithCache(cache))
	posts := newStore(t, backend, notes, "posts", store.WithCache(cache))
	ctx := context.Background()

	_, err = users.List(ctx, query.Params{})
	require.NoError(t, err)
	page, err := posts.List(ctx, query.Params{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 2, cache.Len())

	uq, err := users.Read(query.Params{})
	require.NoError(t, err)
	pq, err := posts.Read(query.Params{})
	require.NoError(t, err)

	_, err = posts.Create(ctx, map[string]any{"title": "again"})
	require.NoError(t, err)
	assert.False(t, uq.State().IsStale)
	assert.True(t, pq.State().IsStale)

	assert.Equal(t, 1, cache.Invalidate("users"))
	assert.True(t, uq.State().IsStale)
}

func TestPurge(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.List(context.Background(), query.Params{})
	require.NoError(t, err)
	q, err := f.store.Read(query.Params{})
	require.NoError(t, err)

	f.store.Cache().Purge()
	assert.Zero(t, f.store.Cache().Len())
	assert.Equal(t, store.StatusAbsent, q.State().Status)
}

func TestMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := store.Mutate(ctx, func(ctx context.Context) (collection.Record, error) {
		return f.store.Create(ctx, map[string]any{"name": "mutated"})
	})
	rec, err := m.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mutated", rec.String("name"))
	assert.Equal(t, store.MutationSuccess, m.Status())

	failed := store.Mutate(ctx, func(context.Context) (int, error) { return 0, errBoom })
	_, err = failed.Wait(ctx)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, store.MutationError, failed.Status())

	release := make(chan struct{})
	pending := store.Mutate(ctx, func(context.Context) (string, error) {
		<-release
		return "done", nil
	})
	assert.Equal(t, store.MutationPending, pending.Status())

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-pending.Done()
	v, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestAsyncWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.store.CreateAsync(ctx, map[string]any{"name": "async"}).Wait(ctx)
	require.NoError(t, err)

	created.Fields["name"] = "async renamed"
	updated, err := f.store.UpdateAsync(ctx, created).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "async renamed", updated.String("name"))

	m := f.store.RemoveAsync(ctx, created.ID)
	id, err := m.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)
	assert.Equal(t, store.MutationSuccess, m.Status())
	assert.Len(t, f.backend.Records("users"), 12)
}

func TestWriteRefetchesAfterLastFetcherClosed(t *testing.T) {
	backend := &countingBackend{Mock: newMock(t, 12)}
	cache := store.NewCache()
	notes := &noteLog{}
	first := newStore(t, backend, notes, "users", store.WithCache(cache))
	second := newStore(t, backend, notes, "users", store.WithCache(cache))
	ctx := context.Background()

	_, err := first.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	q, err := second.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	updates, stop := q.Watch()
	defer stop()
	require.NoError(t, first.Close())

	created, err := second.Create(ctx, map[string]any{"name": "newcomer"})
	require.NoError(t, err)
	st := awaitState(t, updates, func(st store.QueryState) bool {
		return st.Status == store.StatusReady && !st.IsStale && st.Result != nil && st.Result.TotalItems == 13
	})
	assert.Equal(t, created.ID, st.Result.Items[0].ID)
	assert.EqualValues(t, 2, backend.lists.Load())
}

func TestChangeEventRefetchesAfterLastFetcherClosed(t *testing.T) {
	backend := &countingBackend{Mock: newMock(t, 12)}
	cache := store.NewCache()
	notes := &noteLog{}
	first := newStore(t, backend, notes, "users", store.WithCache(cache))
	second := newStore(t, backend, notes, "users", store.WithCache(cache))
	ctx := context.Background()

	_, err := first.List(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	q, err := second.Read(query.Params{PerPage: 5})
	require.NoError(t, err)
	updates, stop := q.Watch()
	defer stop()

	sub, err := second.Subscribe(ctx, query.Params{PerPage: 5})
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, first.Close())

	pushed, err := backend.Create(ctx, "users", map[string]any{"name": "pushed"})
	require.NoError(t, err)
	st := awaitState(t, updates, func(st store.QueryState) bool {
		return st.Status == store.StatusReady && !st.IsStale && st.Result != nil && st.Result.TotalItems == 13
	})
	assert.Equal(t, pushed.ID, st.Result.Items[0].ID)
	assert.EqualValues(t, 2, backend.lists.Load())
}

func awaitState(t *testing.T, updates <-chan store.QueryState, ok func(store.QueryState) bool) store.QueryState {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case st, open := <-updates:
			require.True(t, open, "watch channel closed")
			if ok(st) {
				return st
			}
		case <-deadline:
			t.Fatal("timed out waiting for state")
			return store.QueryState{}
		}
	}
}
