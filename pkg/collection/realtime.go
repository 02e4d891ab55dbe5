package collection

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/Ratio1/collection_sdk_go/internal/httpx"
	"github.com/Ratio1/collection_sdk_go/internal/pbapi"
)

// Subscribe opens /api/realtime, waits for the PB_CONNECT handshake, registers
// the collection wildcard topic and then feeds matching events to handler from
// a single goroutine. A dropped stream ends the subscription; it is not
// re-established.
func (b *httpBackend) Subscribe(ctx context.Context, collection string, handler Handler) (func(), error) {
	log := b.client.Logger()
	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := b.client.Stream(streamCtx, &httpx.Request{
		Method: http.MethodGet,
		Path:   "/api/realtime",
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("collection: open realtime stream: %w", err)
	}

	topic := pbapi.Topic(collection)
	ready := make(chan error, 1)
	go func() {
		defer resp.Body.Close()
		subscribed := false

		err := pbapi.ReadEvents(resp.Body, func(ev pbapi.Event) error {
			if !subscribed {
				if ev.Name != pbapi.ConnectEvent {
					return nil
				}
				var connect pbapi.ConnectPayload
				if err := json.Unmarshal(ev.Data, &connect); err != nil || connect.ClientID == "" {
					return fmt.Errorf("collection: malformed %s event: %s", pbapi.ConnectEvent, ev.Data)
				}
				if err := b.register(streamCtx, connect.ClientID, topic); err != nil {
					return err
				}
				subscribed = true
				ready <- nil
				return nil
			}
			if ev.Name != topic || streamCtx.Err() != nil {
				return nil
			}
			change, err := decodeChange(ev.Data)
			if err != nil {
				log.Warnw("dropping malformed realtime event", "collection", collection, "error", err)
				return nil
			}
			handler(change)
			return nil
		})

		if !subscribed {
			if err == nil {
				err = errors.New("collection: realtime stream closed before handshake")
			}
			ready <- err
			return
		}
		if streamCtx.Err() == nil {
			log.Warnw("realtime subscription ended", "collection", collection, "error", err)
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	return cancel, nil
}

func (b *httpBackend) register(ctx context.Context, clientID, topic string) error {
	body, contentType, err := httpx.JSONBody(pbapi.SubscribeRequest{
		ClientID:      clientID,
		Subscriptions: []string{topic},
	})
	if err != nil {
		return err
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodPost,
		Path:   "/api/realtime",
		Header: http.Header{"Content-Type": {contentType}},
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("collection: register realtime topic %s: %w", topic, err)
	}
	return httpx.DecodeJSON(resp, nil)
}

func decodeChange(data []byte) (ChangeEvent, error) {
	var msg pbapi.RecordMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ChangeEvent{}, err
	}
	var rec Record
	if err := json.Unmarshal(msg.Record, &rec); err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{Action: Action(msg.Action), Record: rec}, nil
}
