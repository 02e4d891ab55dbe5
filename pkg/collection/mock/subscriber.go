package mock

import (
	"context"
	"sync"

	"github.com/Ratio1/collection_sdk_go/pkg/collection"
)

// subscriber queues events without bounding the queue so publishers never
// block; run drains it in order on its own goroutine.
type subscriber struct {
	handler collection.Handler

	mu    sync.Mutex
	queue []collection.ChangeEvent
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSubscriber(handler collection.Handler) *subscriber {
	return &subscriber{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *subscriber) push(ev collection.ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) next() (collection.ChangeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return collection.ChangeEvent{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscriber) run(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for {
			ev, ok := s.next()
			if !ok {
				break
			}
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			s.handler(ev)
		}
	}
}
