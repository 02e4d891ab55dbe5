package recordkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ratio1/collection_sdk_go/internal/devseed"
	"github.com/Ratio1/collection_sdk_go/internal/httpx"
	"github.com/Ratio1/collection_sdk_go/internal/logger"
	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/collection/mock"
	"github.com/Ratio1/collection_sdk_go/pkg/retry"
	"github.com/Ratio1/collection_sdk_go/pkg/store"
)

// DefaultHealthPolicy bounds how long Init waits for the backend.
var DefaultHealthPolicy = retry.Policy{MaxRetries: 5, BaseDelay: 200 * time.Millisecond, Factor: 2}

// ModeCustom is the mode of a runtime built with WithBackend.
const ModeCustom = "custom"

// ErrClosed is returned by a closed Runtime.
var ErrClosed = errors.New("recordkit: runtime closed")

type options struct {
	logger       *zap.Logger
	backend      collection.Backend
	notifyBuffer int
	healthPolicy retry.Policy
	httpOptions  []httpx.Option
}

// Option customises a Runtime.
type Option func(*options)

// WithLogger replaces the logger built from LOGGING_LEVEL and LOGGING_FORMAT.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBackend bypasses mode resolution and uses b directly.
func WithBackend(b collection.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithNotificationBuffer sizes the notification channel.
func WithNotificationBuffer(n int) Option {
	return func(o *options) { o.notifyBuffer = n }
}

// WithHealthPolicy overrides the retry policy of the startup health check.
func WithHealthPolicy(p retry.Policy) Option {
	return func(o *options) { o.healthPolicy = p }
}

// WithHTTPOptions forwards options to the HTTP client in http mode.
func WithHTTPOptions(opts ...httpx.Option) Option {
	return func(o *options) { o.httpOptions = append(o.httpOptions, opts...) }
}

// Runtime owns the objects every store of an application shares.
type Runtime struct {
	cfg     Config
	mode    string
	backend collection.Backend
	mock    *mock.Mock
	cache   *store.Cache
	exec    *retry.Executor
	notes   *retry.ChannelNotifier
	zlog    *zap.Logger
	log     *zap.SugaredLogger
	health  retry.Policy

	mu     sync.Mutex
	stores []*store.Store
	closed bool
}

// Init loads the configuration from the environment, builds the runtime and
// waits for the backend to report healthy.
func Init(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := rt.WaitReady(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// New builds a runtime for cfg without contacting the backend.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	o := options{healthPolicy: DefaultHealthPolicy}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.FromEnv()
	}

	rt := &Runtime{
		cfg:    cfg,
		zlog:   o.logger,
		log:    o.logger.Sugar().Named("recordkit"),
		notes:  retry.NewChannelNotifier(o.notifyBuffer),
		health: o.healthPolicy,
	}
	rt.exec = retry.NewExecutor(retry.WithLogger(o.logger.Sugar().Named("retry")), retry.WithNotifier(rt.notes))

	substrate, err := cfg.substrate()
	if err != nil {
		return nil, fmt.Errorf("recordkit: cache: %w", err)
	}
	rt.cache = store.NewCache(store.WithSubstrate(substrate), store.WithCacheLogger(o.logger.Sugar().Named("cache")))

	switch {
	case o.backend != nil:
		rt.mode = ModeCustom
		rt.backend = o.backend
	case cfg.Mode == collection.ModeHTTP:
		httpOpts := []httpx.Option{httpx.WithLogger(o.logger.Sugar().Named("http"))}
		if cfg.Token != "" {
			httpOpts = append(httpOpts, httpx.WithToken(cfg.Token))
		}
		client, err := collection.New(cfg.BaseURL, append(httpOpts, o.httpOptions...)...)
		if err != nil {
			return nil, fmt.Errorf("recordkit: init HTTP client: %w", err)
		}
		rt.mode = collection.ModeHTTP
		rt.backend = client
	default:
		m := mock.New()
		if cfg.SeedPath != "" {
			seed, err := devseed.Load(cfg.SeedPath)
			if err != nil {
				return nil, fmt.Errorf("recordkit: load mock seed: %w", err)
			}
			if err := m.Seed(seed); err != nil {
				return nil, fmt.Errorf("recordkit: apply mock seed: %w", err)
			}
		}
		rt.mode = collection.ModeMock
		rt.mock = m
		rt.backend = collection.NewWithBackend(m)
	}

	rt.log.Infow("runtime ready", "mode", rt.Mode(), "cacheTTL", cfg.CacheTTL, "cacheSize", cfg.CacheSize)
	return rt, nil
}

// WaitReady retries the backend health probe until it succeeds, the policy
// is exhausted or ctx ends. Backends without a probe are ready at once.
func (r *Runtime) WaitReady(ctx context.Context) error {
	hc, ok := r.backend.(collection.HealthChecker)
	if !ok {
		return nil
	}
	_, err := retry.Do(ctx, r.exec, r.health, "Health check", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, hc.Health(ctx)
	})
	if err != nil {
		return fmt.Errorf("recordkit: backend not ready: %w", err)
	}
	return nil
}

// Mode reports the backend in use: collection.ModeHTTP, collection.ModeMock
// or ModeCustom.
func (r *Runtime) Mode() string { return r.mode }

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() Config { return r.cfg }

// Backend returns the backend every store talks to.
func (r *Runtime) Backend() collection.Backend { return r.backend }

// Mock returns the in-memory backend in mock mode and nil otherwise.
func (r *Runtime) Mock() *mock.Mock { return r.mock }

// Cache returns the cache shared by the runtime's stores.
func (r *Runtime) Cache() *store.Cache { return r.cache }

// Executor returns the retry executor shared by the runtime's stores.
func (r *Runtime) Executor() *retry.Executor { return r.exec }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *zap.SugaredLogger { return r.log }

// Notifications delivers one entry per operation that failed after its
// retries. The channel is buffered; notifications are dropped when nobody
// drains it.
func (r *Runtime) Notifications() <-chan retry.Notification { return r.notes.C() }

// Store builds a store for desc on the shared cache and executor. Extra
// options are applied after the runtime defaults.
func (r *Runtime) Store(desc store.Descriptor, opts ...store.Option) (*store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	base := []store.Option{
		store.WithCache(r.cache),
		store.WithExecutor(r.exec),
		store.WithLogger(r.zlog.Sugar().Named("store").With("collection", desc.Collection)),
	}
	s, err := store.New(r.backend, desc, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	r.stores = append(r.stores, s)
	return s, nil
}

// Close closes every store built by the runtime and flushes the logger.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stores := r.stores
	r.stores = nil
	r.mu.Unlock()

	for _, s := range stores {
		_ = s.Close()
	}
	r.cache.Purge()
	_ = r.zlog.Sync()
	return nil
}
