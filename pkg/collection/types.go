package collection

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
)

// TimeLayout is the backend's timestamp format for created/updated.
const TimeLayout = "2006-01-02 15:04:05.000Z"

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("collection: record not found")
	// ErrInvalidRequest is returned for malformed input such as a bad filter or
	// a duplicate id.
	ErrInvalidRequest = errors.New("collection: invalid request")
)

// Record is one backend record. id, created and updated are first-class;
// every other field lives in Fields. JSON encoding flattens Fields next to
// the system fields.
type Record struct {
	ID      string
	Created time.Time
	Updated time.Time
	Fields  map[string]any
}

// Get resolves a field by name, including the system fields.
func (r Record) Get(field string) (any, bool) {
	switch field {
	case "id":
		return r.ID, true
	case "created":
		return r.Created, !r.Created.IsZero()
	case "updated":
		return r.Updated, !r.Updated.IsZero()
	}
	v, ok := r.Fields[field]
	return v, ok
}

// String returns the field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	v, ok := r.Get(field)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Clone returns a deep copy: nested maps and slices in Fields are copied
// too. Values the copier cannot handle (funcs, channels, structs with
// unexported fields) make it fall back to copying only the top-level map.
func (r Record) Clone() Record {
	out := r
	if r.Fields == nil {
		return out
	}
	out.Fields = nil
	if err := deepcopy.Copy(&out.Fields, r.Fields); err == nil {
		return out
	}
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// MarshalJSON flattens the record into a single object.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["id"] = r.ID
	if !r.Created.IsZero() {
		flat["created"] = FormatTime(r.Created)
	}
	if !r.Updated.IsZero() {
		flat["updated"] = FormatTime(r.Updated)
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits a flat object into system fields and Fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if flat == nil {
		return fmt.Errorf("collection: record must be a JSON object")
	}

	rec := Record{Fields: make(map[string]any, len(flat))}
	for k, v := range flat {
		switch k {
		case "id":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("collection: record id must be a string, got %T", v)
			}
			rec.ID = s
		case "created", "updated":
			s, _ := v.(string)
			t, err := ParseTime(s)
			if err != nil {
				return fmt.Errorf("collection: record %s: %w", k, err)
			}
			if k == "created" {
				rec.Created = t
			} else {
				rec.Updated = t
			}
		default:
			rec.Fields[k] = v
		}
	}
	*r = rec
	return nil
}

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and RFC 3339. An empty string is the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return t.UTC(), nil
}

// Decode hydrates a typed model from a record through its JSON form, so any
// struct with matching json tags works.
func Decode[T any](r Record) (T, error) {
	var out T
	data, err := json.Marshal(r)
	if err != nil {
		return out, fmt.Errorf("collection: encode record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("collection: decode record %s: %w", r.ID, err)
	}
	return out, nil
}

// DecodeAll applies Decode to every record.
func DecodeAll[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ListOptions carries the backend sort and filter expressions.
type ListOptions struct {
	Sort   string
	Filter string
}

// ListResult is one page of records.
type ListResult struct {
	Items      []Record `json:"items"`
	Page       int      `json:"page"`
	PerPage    int      `json:"perPage"`
	TotalItems int      `json:"totalItems"`
	TotalPages int      `json:"totalPages"`
}

// Clone copies the result and its records.
func (l *ListResult) Clone() *ListResult {
	if l == nil {
		return nil
	}
	out := *l
	out.Items = make([]Record, len(l.Items))
	for i, r := range l.Items {
		out.Items[i] = r.Clone()
	}
	return &out
}

// Action is the kind of change carried by a ChangeEvent.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ChangeEvent is one server-pushed mutation.
type ChangeEvent struct {
	Action Action
	Record Record
}

// Handler receives change events. Calls for one subscription are sequential
// and in server order.
type Handler func(ChangeEvent)
