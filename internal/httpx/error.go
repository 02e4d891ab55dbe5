package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Ratio1/collection_sdk_go/internal/pbapi"
)

// HTTPError represents a non-2xx response returned by the backend.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	// Message is the backend's own description, when the body carried one.
	Message string
	Body    []byte
	Header  http.Header
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" {
		return fmt.Sprintf("http error: %s %s: status=%d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http error: %s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, string(e.Body))
}

// UserMessage is the text shown in failure notifications.
func (e *HTTPError) UserMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Retryable reports whether the error should be considered transient.
func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		(e.StatusCode >= 500 && e.StatusCode <= 599)
}

// IsStatus reports whether err is an *HTTPError with the given status.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}

func errorMessage(body []byte) string {
	return pbapi.ErrorMessage(body)
}
