package collection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/Ratio1/collection_sdk_go/internal/httpx"
	"github.com/Ratio1/collection_sdk_go/internal/pbapi"
)

type httpBackend struct {
	client *httpx.Client
}

func newHTTPBackend(client *httpx.Client) *httpBackend {
	return &httpBackend{client: client}
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

func (b *httpBackend) List(ctx context.Context, collection string, page, perPage int, opts ListOptions) (*ListResult, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(perPage))
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Filter != "" {
		q.Set("filter", opts.Filter)
	}

	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   recordsPath(collection),
		Query:  q,
	})
	if err != nil {
		return nil, translate(err)
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("collection: read list response: %w", err)
	}
	env, err := pbapi.DecodeList(data)
	if err != nil {
		return nil, err
	}

	result := &ListResult{
		Items:      make([]Record, 0, len(env.Items)),
		Page:       env.Page,
		PerPage:    env.PerPage,
		TotalItems: env.TotalItems,
		TotalPages: env.TotalPages,
	}
	for i, raw := range env.Items {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("collection: decode item %d: %w", i, err)
		}
		result.Items = append(result.Items, rec)
	}
	return result, nil
}

func (b *httpBackend) Create(ctx context.Context, collection string, payload map[string]any) (Record, error) {
	return b.write(ctx, http.MethodPost, recordsPath(collection), payload)
}

func (b *httpBackend) Update(ctx context.Context, collection, id string, payload map[string]any) (Record, error) {
	return b.write(ctx, http.MethodPatch, recordPath(collection, id), payload)
}

func (b *httpBackend) write(ctx context.Context, method, path string, payload map[string]any) (Record, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, contentType, err := httpx.JSONBody(payload)
	if err != nil {
		return Record{}, fmt.Errorf("collection: encode payload: %w", err)
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: method,
		Path:   path,
		Header: http.Header{"Content-Type": {contentType}},
		Body:   body,
	})
	if err != nil {
		return Record{}, translate(err)
	}
	var rec Record
	if err := httpx.DecodeJSON(resp, &rec); err != nil {
		return Record{}, fmt.Errorf("collection: %w", err)
	}
	return rec, nil
}

func (b *httpBackend) Delete(ctx context.Context, collection, id string) error {
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodDelete,
		Path:   recordPath(collection, id),
	})
	if err != nil {
		return translate(err)
	}
	return httpx.DecodeJSON(resp, nil)
}

func (b *httpBackend) Health(ctx context.Context) error {
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   "/api/health",
	})
	if err != nil {
		return err
	}
	var health pbapi.HealthEnvelope
	if err := httpx.DecodeJSON(resp, &health); err != nil {
		return fmt.Errorf("collection: health: %w", err)
	}
	if health.Code != 0 && health.Code != http.StatusOK {
		return fmt.Errorf("collection: health: backend reported code %d: %s", health.Code, health.Message)
	}
	return nil
}

// translate maps well-known statuses onto the package sentinels while keeping
// the HTTP error reachable through errors.As.
func translate(err error) error {
	switch {
	case httpx.IsStatus(err, http.StatusNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case httpx.IsStatus(err, http.StatusBadRequest):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return err
}
