package collection

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ratio1/collection_sdk_go/internal/httpx"
)

// Backend is the remote record-collection service. Implementations must be
// safe for concurrent use; ctx is the cancellation signal for every call.
type Backend interface {
	List(ctx context.Context, collection string, page, perPage int, opts ListOptions) (*ListResult, error)
	Create(ctx context.Context, collection string, payload map[string]any) (Record, error)
	Update(ctx context.Context, collection, id string, payload map[string]any) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	// Subscribe delivers every change to collection to handler until the
	// returned unsubscribe func is called or ctx ends.
	Subscribe(ctx context.Context, collection string, handler Handler) (func(), error)
}

// HealthChecker is implemented by backends that can report readiness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Client validates arguments and forwards them to a Backend. It implements
// Backend itself, so stores can be built on a Client directly.
type Client struct {
	backend Backend
}

// New constructs a Client bound to the backend at baseURL.
func New(baseURL string, opts ...httpx.Option) (*Client, error) {
	cl, err := httpx.NewClient(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithHTTPClient(cl), nil
}

// NewWithHTTPClient wraps an existing httpx.Client.
func NewWithHTTPClient(httpClient *httpx.Client) *Client {
	return &Client{backend: newHTTPBackend(httpClient)}
}

// NewWithBackend allows callers to supply a custom backend (e.g. the mock).
func NewWithBackend(b Backend) *Client {
	return &Client{backend: b}
}

// List returns one page of records of collection.
func (c *Client) List(ctx context.Context, collection string, page, perPage int, opts ListOptions) (*ListResult, error) {
	if err := c.check(collection); err != nil {
		return nil, err
	}
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("%w: page and perPage must be positive (page=%d perPage=%d)", ErrInvalidRequest, page, perPage)
	}
	return c.backend.List(ctx, collection, page, perPage, opts)
}

// Create inserts a record built from payload.
func (c *Client) Create(ctx context.Context, collection string, payload map[string]any) (Record, error) {
	if err := c.check(collection); err != nil {
		return Record{}, err
	}
	return c.backend.Create(ctx, collection, payload)
}

// Update patches the record id with payload.
func (c *Client) Update(ctx context.Context, collection, id string, payload map[string]any) (Record, error) {
	if err := c.check(collection); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Record{}, fmt.Errorf("%w: record id is required", ErrInvalidRequest)
	}
	return c.backend.Update(ctx, collection, id, payload)
}

// Delete removes the record id.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := c.check(collection); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidRequest)
	}
	return c.backend.Delete(ctx, collection, id)
}

// Subscribe opens the change feed of collection.
func (c *Client) Subscribe(ctx context.Context, collection string, handler Handler) (func(), error) {
	if err := c.check(collection); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("collection: handler is nil")
	}
	return c.backend.Subscribe(ctx, collection, handler)
}

// Health reports whether the backend is reachable. Backends without a health
// probe are assumed healthy.
func (c *Client) Health(ctx context.Context) error {
	if c == nil || c.backend == nil {
		return fmt.Errorf("collection: client is nil")
	}
	if hc, ok := c.backend.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

func (c *Client) check(collection string) error {
	if c == nil || c.backend == nil {
		return fmt.Errorf("collection: client is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidRequest)
	}
	return nil
}
