package store

import (
	"context"
	"sync"

	"github.com/Ratio1/collection_sdk_go/pkg/collection"
)

// MutationStatus is the state of a Mutation.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationSuccess MutationStatus = "success"
	MutationError   MutationStatus = "error"
)

// Mutation tracks one asynchronous write.
type Mutation[T any] struct {
	done chan struct{}

	mu     sync.Mutex
	status MutationStatus
	result T
	err    error
}

// Mutate runs fn on its own goroutine and returns a handle to its outcome.
//
//	m := store.Mutate(ctx, func(ctx context.Context) (collection.Record, error) {
//		return users.Create(ctx, payload)
//	})
//	rec, err := m.Wait(ctx)
func Mutate[T any](ctx context.Context, fn func(context.Context) (T, error)) *Mutation[T] {
	m := &Mutation[T]{done: make(chan struct{}), status: MutationPending}
	go func() {
		defer close(m.done)
		result, err := fn(ctx)
		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			m.status, m.err = MutationError, err
			return
		}
		m.status, m.result = MutationSuccess, result
	}()
	return m
}

// Status reports whether the mutation is still running.
func (m *Mutation[T]) Status() MutationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Done is closed once the mutation finished.
func (m *Mutation[T]) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the mutation finishes or ctx ends.
func (m *Mutation[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-m.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.err
}

// CreateAsync runs Create in the background.
func (s *Store) CreateAsync(ctx context.Context, payload map[string]any) *Mutation[collection.Record] {
	return Mutate(ctx, func(ctx context.Context) (collection.Record, error) {
		return s.Create(ctx, payload)
	})
}

// UpdateAsync runs Update in the background.
func (s *Store) UpdateAsync(ctx context.Context, rec collection.Record) *Mutation[collection.Record] {
	rec = rec.Clone()
	return Mutate(ctx, func(ctx context.Context) (collection.Record, error) {
		return s.Update(ctx, rec)
	})
}

// RemoveAsync runs Remove in the background.
func (s *Store) RemoveAsync(ctx context.Context, id string) *Mutation[string] {
	return Mutate(ctx, func(ctx context.Context) (string, error) {
		return s.Remove(ctx, id)
	})
}
