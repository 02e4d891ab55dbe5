package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/Ratio1/collection_sdk_go/internal/logger"
	"github.com/Ratio1/collection_sdk_go/pkg/retry"
)

// RetryPolicy controls transport-level retries for transient failures. The
// zero value performs a single attempt; the store layer owns the retry
// budget for record operations.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
	RetryIf    func(resp *http.Response, err error) bool
}

// TransientRetryPolicy is a conservative policy for callers that talk to the
// backend without going through the retry executor (health checks).
var TransientRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  250 * time.Millisecond,
	MaxDelay:   2 * time.Second,
	Jitter:     0.25,
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for request/response calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithStreamClient overrides the HTTP client used for long-lived streams.
func WithStreamClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.streamClient = h
		}
	}
}

// WithHeaders assigns default headers added to every request.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, values := range h {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithToken sends token verbatim in the Authorization header.
func WithToken(token string) Option {
	return func(c *Client) {
		if token = strings.TrimSpace(token); token != "" {
			c.headers.Set("Authorization", token)
		}
	}
}

// WithRetryPolicy overrides the transport retry configuration.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithLogger sets the logger used for transport retries.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client wraps http.Client with base URL resolution, default headers and
// optional transport retries.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	streamClient *http.Client
	headers      http.Header
	retryPolicy  RetryPolicy
	logger       *zap.SugaredLogger
}

// Request describes a single outbound request.
type Request struct {
	Method       string
	Path         string
	Query        url.Values
	Header       http.Header
	DisableRetry bool
	Body         io.Reader
	GetBody      func() (io.ReadCloser, error)
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("httpx: base URL %q must include scheme and host", baseURL)
	}

	c := &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		streamClient: &http.Client{},
		headers:      make(http.Header),
		logger:       logger.OrNop(nil),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retryPolicy.MaxRetries < 0 {
		c.retryPolicy.MaxRetries = 0
	}
	if c.retryPolicy.BaseDelay <= 0 {
		c.retryPolicy.BaseDelay = TransientRetryPolicy.BaseDelay
	}
	if c.retryPolicy.MaxDelay <= 0 {
		c.retryPolicy.MaxDelay = TransientRetryPolicy.MaxDelay
	}
	return c, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Logger returns the logger configured through WithLogger.
func (c *Client) Logger() *zap.SugaredLogger {
	return c.logger
}

// Do executes the request and returns the response, or an *HTTPError for
// statuses >= 400.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	return c.do(ctx, c.httpClient, req, c.retryPolicy)
}

// Stream opens a long-lived response (server-sent events). It never retries
// and is not bound by the request timeout; ctx ends the stream.
func (c *Client) Stream(ctx context.Context, req *Request) (*http.Response, error) {
	if req != nil {
		req.DisableRetry = true
		if req.Header == nil {
			req.Header = make(http.Header)
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "text/event-stream")
		}
	}
	return c.do(ctx, c.streamClient, req, RetryPolicy{})
}

func (c *Client) do(ctx context.Context, hc *http.Client, req *Request, policy RetryPolicy) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}

	if req.DisableRetry {
		req.GetBody = nil
	} else if req.GetBody == nil && req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpx: read request body: %w", err)
		}
		req.Body = bytes.NewReader(data)
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}

	fullURL, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	backoff := retry.NewBackoff(policy.BaseDelay, 2, policy.MaxDelay, policy.Jitter)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := c.prepareBody(req, attempt == 0)
		if err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
		if err != nil {
			return nil, err
		}
		httpReq.Header = cloneHeader(c.headers)
		for k, values := range req.Header {
			for _, v := range values {
				httpReq.Header.Add(k, v)
			}
		}

		resp, err := hc.Do(httpReq)
		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}
		if err == nil {
			err = c.handleError(req.Method, req.Path, resp)
		} else {
			closeBody(respBody(resp))
		}

		if !shouldRetry(req, policy, attempt, resp, err) {
			return nil, err
		}
		delay := backoff.ForAttempt(attempt)
		c.logger.Debugw("retrying request", "method", req.Method, "path", req.Path, "attempt", attempt+1, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) prepareBody(req *Request, first bool) (io.ReadCloser, error) {
	if first && req.Body != nil {
		body := req.Body
		req.Body = nil
		if rc, ok := body.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(body), nil
	}
	if req.GetBody != nil {
		return req.GetBody()
	}
	return http.NoBody, nil
}

func shouldRetry(req *Request, policy RetryPolicy, attempt int, resp *http.Response, err error) bool {
	if req.DisableRetry || attempt >= policy.MaxRetries {
		return false
	}
	if policy.RetryIf != nil {
		return policy.RetryIf(resp, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return err != nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

func respBody(resp *http.Response) io.ReadCloser {
	if resp == nil {
		return nil
	}
	return resp.Body
}

func (c *Client) buildURL(path string, q url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if len(q) > 0 {
		ref.RawQuery = q.Encode()
	}
	base := *c.baseURL
	base.Path = strings.TrimRight(base.Path, "/") + ref.Path
	base.RawPath = ""
	base.RawQuery = ref.RawQuery
	return base.String(), nil
}

func (c *Client) handleError(method, path string, resp *http.Response) error {
	defer closeBody(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpx: read error body: %w", err)
	}
	httpErr := &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}
	if isJSON(resp.Header.Get("Content-Type")) {
		httpErr.Message = errorMessage(body)
	}
	return httpErr
}

// JSONBody serializes v and returns a reader plus its content type.
func JSONBody(v any) (io.Reader, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

// DecodeJSON drains and closes resp.Body, decoding it into out.
func DecodeJSON(resp *http.Response, out any) error {
	data, err := ReadAllAndClose(resp.Body)
	if err != nil {
		return fmt.Errorf("httpx: read response: %w", err)
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("httpx: empty response body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("httpx: decode response: %w", err)
	}
	return nil
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	return io.ReadAll(rc)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType) == "application/json"
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		dst[k] = append([]string(nil), values...)
	}
	return dst
}
