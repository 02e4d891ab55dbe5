package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/Ratio1/collection_sdk_go/internal/pbapi"
	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/collection/mock"
)

var (
	errUnknownClient = errors.New("sandbox: unknown realtime client")
	errBadTopic      = errors.New("sandbox: unsupported topic")
)

// rtClient is one connected realtime stream.
type rtClient struct {
	id     string
	events chan pbapi.Event
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	unsubs []func()
	topics []string
	closed bool
}

func (c *rtClient) send(ev pbapi.Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// dropSubscriptionsLocked must be called with c.mu held.
func (c *rtClient) dropSubscriptionsLocked() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.topics = nil
}

func (c *rtClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.dropSubscriptionsLocked()
	c.cancel()
}

// hub tracks realtime clients. Idle entries expire from the registry; a
// connected stream refreshes its entry on every heartbeat.
type hub struct {
	backend *mock.Mock
	clients *expiremap.ExpireMap[string, *rtClient]
	log     *zap.SugaredLogger

	mu   sync.Mutex
	live map[*rtClient]struct{}
}

func newHub(backend *mock.Mock, ttl time.Duration, log *zap.SugaredLogger) *hub {
	return &hub{
		backend: backend,
		clients: expiremap.NewEx[string, *rtClient](ttl, ttl),
		log:     log,
		live:    make(map[*rtClient]struct{}),
	}
}

func (h *hub) connect() *rtClient {
	ctx, cancel := context.WithCancel(context.Background())
	c := &rtClient{
		id:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		events: make(chan pbapi.Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	h.clients.Set(c.id, c)
	h.mu.Lock()
	h.live[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debugw("realtime client connected", "clientId", c.id)
	return c
}

func (h *hub) touch(c *rtClient) {
	h.clients.Set(c.id, c)
}

func (h *hub) disconnect(c *rtClient) {
	c.close()
	h.mu.Lock()
	delete(h.live, c)
	h.mu.Unlock()
	h.log.Debugw("realtime client disconnected", "clientId", c.id)
}

func (h *hub) lookup(id string) (*rtClient, bool) {
	p, ok := h.clients.Load(id)
	if !ok || p == nil {
		return nil, false
	}
	c := *p
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return c, !closed
}

// subscribe replaces the topics of client id.
func (h *hub) subscribe(id string, topics []string) error {
	c, ok := h.lookup(id)
	if !ok {
		return errUnknownClient
	}

	collections := make([]string, 0, len(topics))
	for _, topic := range topics {
		coll, ok := pbapi.TopicCollection(topic)
		if !ok {
			return fmt.Errorf("%w %q", errBadTopic, topic)
		}
		collections = append(collections, coll)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errUnknownClient
	}
	c.dropSubscriptionsLocked()
	for i, coll := range collections {
		topic := topics[i]
		unsub, err := h.backend.Subscribe(c.ctx, coll, func(ev collection.ChangeEvent) {
			record, err := json.Marshal(ev.Record)
			if err != nil {
				h.log.Warnw("dropping unencodable record", "topic", topic, "error", err)
				return
			}
			data, err := json.Marshal(pbapi.RecordMessage{Action: string(ev.Action), Record: record})
			if err != nil {
				h.log.Warnw("dropping unencodable event", "topic", topic, "error", err)
				return
			}
			c.send(pbapi.Event{ID: c.id, Name: topic, Data: data})
		})
		if err != nil {
			c.dropSubscriptionsLocked()
			return err
		}
		c.unsubs = append(c.unsubs, unsub)
		c.topics = append(c.topics, topic)
	}
	h.log.Debugw("realtime subscriptions replaced", "clientId", c.id, "topics", c.topics)
	return nil
}

// connected reports the number of open streams.
func (h *hub) connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*rtClient, 0, len(h.live))
	for c := range h.live {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
