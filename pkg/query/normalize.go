package query

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultPage is used when Params.Page is unset.
	DefaultPage = 1
	// DefaultPerPage is used when Params.PerPage is unset.
	DefaultPerPage = 10
	// DefaultSort lists the most recently created records first.
	DefaultSort = "-created"
)

// ErrInvalidPaging is returned for negative page or perPage values.
var ErrInvalidPaging = errors.New("query: page and perPage must be positive")

// SortOrder selects the direction of Params.SortField.
type SortOrder int

const (
	// Ascending is also what an unset SortOrder means.
	Ascending  SortOrder = 1
	Descending SortOrder = -1
)

// Params are the loosely specified paging, sort and filter inputs of a read.
// Zero values mean "unset".
type Params struct {
	Page      int       `json:"page,omitempty"`
	PerPage   int       `json:"perPage,omitempty"`
	SortField string    `json:"sortField,omitempty"`
	SortOrder SortOrder `json:"sortOrder,omitempty"`
	Filter    string    `json:"filter,omitempty"`
}

// Normalized is the canonical form of Params handed to the backend.
type Normalized struct {
	Page    int
	PerPage int
	Sort    string
	Filter  string
}

// Normalize derives the canonical query for p. When p.Filter is set and
// searchable is non-empty, the text is matched with "contains" against every
// searchable field and the clauses are OR-combined; with no searchable fields
// the text is used verbatim as a raw backend predicate.
func Normalize(p Params, searchable []string) (Normalized, error) {
	if p.Page < 0 || p.PerPage < 0 {
		return Normalized{}, fmt.Errorf("%w (page=%d perPage=%d)", ErrInvalidPaging, p.Page, p.PerPage)
	}

	n := Normalized{
		Page:    p.Page,
		PerPage: p.PerPage,
		Sort:    DefaultSort,
	}
	if n.Page == 0 {
		n.Page = DefaultPage
	}
	if n.PerPage == 0 {
		n.PerPage = DefaultPerPage
	}

	if field := strings.TrimSpace(p.SortField); field != "" {
		if p.SortOrder == Descending {
			n.Sort = "-" + field
		} else {
			n.Sort = field
		}
	}

	if p.Filter != "" {
		fields := nonEmpty(searchable)
		if len(fields) > 0 {
			n.Filter = ContainsAny(fields, p.Filter)
		} else {
			n.Filter = p.Filter
		}
	}

	// Keys are NFC; the backend must see the same text the key was built from.
	n.Sort = norm.NFC.String(n.Sort)
	n.Filter = norm.NFC.String(n.Filter)
	return n, nil
}

// ContainsAny builds `f1~"text" || f2~"text" ...` with text escaped so it
// cannot close its quoted segment.
func ContainsAny(fields []string, text string) string {
	quoted := Quote(text)
	clauses := make([]string, 0, len(fields))
	for _, f := range fields {
		clauses = append(clauses, f+"~"+quoted)
	}
	return strings.Join(clauses, " || ")
}

// Quote wraps s in double quotes, escaping backslashes and double quotes.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func nonEmpty(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
