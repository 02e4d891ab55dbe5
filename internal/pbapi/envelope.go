package pbapi

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// ListEnvelope is the paginated list body returned by
// GET /api/collections/{collection}/records.
type ListEnvelope struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

// FieldError describes one rejected field in an ErrorEnvelope.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the body the backend sends with every 4xx/5xx response.
type ErrorEnvelope struct {
	Code    int                   `json:"code"`
	Message string                `json:"message"`
	Data    map[string]FieldError `json:"data"`
}

// HealthEnvelope is the body of GET /api/health.
type HealthEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DecodeList parses a list response. An empty body is an error; a missing
// items array decodes as an empty page.
func DecodeList(body []byte) (*ListEnvelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("pbapi: empty list response")
	}
	var env ListEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("pbapi: decode list response: %w", err)
	}
	if env.Items == nil {
		env.Items = []json.RawMessage{}
	}
	return &env, nil
}

// ErrorMessage extracts a human readable message from an error body. Field
// errors are appended in field order, e.g.
//
//	Failed to create record. (email: Must be a valid email address.)
//
// Bodies that are not an error envelope yield "".
func ErrorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return ""
	}
	return env.String()
}

// String renders the envelope the way ErrorMessage does.
func (e ErrorEnvelope) String() string {
	msg := strings.TrimSpace(e.Message)
	if len(e.Data) == 0 {
		return msg
	}
	fields := make([]string, 0, len(e.Data))
	for name := range e.Data {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	details := make([]string, 0, len(fields))
	for _, name := range fields {
		fe := e.Data[name]
		text := fe.Message
		if text == "" {
			text = fe.Code
		}
		details = append(details, name+": "+text)
	}
	if msg == "" {
		return strings.Join(details, "; ")
	}
	return msg + " (" + strings.Join(details, "; ") + ")"
}

// NewError builds an envelope for the given status.
func NewError(code int, message string) ErrorEnvelope {
	return ErrorEnvelope{Code: code, Message: message, Data: map[string]FieldError{}}
}
