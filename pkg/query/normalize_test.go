package query_test

import (
	"bytes"
	"fmt"
	"testing"
	"testing/quick"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/collection_sdk_go/internal/filterexpr"
	"github.com/Ratio1/collection_sdk_go/pkg/query"
)

func TestNormalizeDefaults(t *testing.T) {
	n, err := query.Normalize(query.Params{}, nil)
	require.NoError(t, err)
	assert.Equal(t, query.Normalized{Page: 1, PerPage: 10, Sort: "-created"}, n)
}

func TestNormalizeSort(t *testing.T) {
	n, err := query.Normalize(query.Params{SortField: "name", SortOrder: query.Descending}, nil)
	require.NoError(t, err)
	assert.Equal(t, "-name", n.Sort)

	n, err = query.Normalize(query.Params{SortField: "name", SortOrder: query.Ascending}, nil)
	require.NoError(t, err)
	assert.Equal(t, "name", n.Sort)

	n, err = query.Normalize(query.Params{SortField: "name"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "name", n.Sort)
}

func TestNormalizeSearch(t *testing.T) {
	n, err := query.Normalize(query.Params{Filter: "ann"}, []string{"email", "name"})
	require.NoError(t, err)
	assert.Equal(t, `email~"ann" || name~"ann"`, n.Filter)
}

func TestNormalizeRawFilter(t *testing.T) {
	n, err := query.Normalize(query.Params{Filter: `status = "open"`}, nil)
	require.NoError(t, err)
	assert.Equal(t, `status = "open"`, n.Filter)

	n, err = query.Normalize(query.Params{Filter: `status = "open"`}, []string{"  "})
	require.NoError(t, err)
	assert.Equal(t, `status = "open"`, n.Filter)
}

func TestNormalizeComposesUnicode(t *testing.T) {
	composed := query.Params{Filter: "caf\u00e9", SortField: "r\u00e9sum\u00e9"}
	decomposed := query.Params{Filter: "cafe\u0301", SortField: "re\u0301sume\u0301"}

	for _, searchable := range [][]string{nil, {"name"}} {
		a, err := query.Normalize(composed, searchable)
		require.NoError(t, err)
		b, err := query.Normalize(decomposed, searchable)
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Equal(t, query.NewKey("posts", a), query.NewKey("posts", b))
	}

	n, err := query.Normalize(decomposed, nil)
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", n.Filter)
	assert.Equal(t, "r\u00e9sum\u00e9", n.Sort)
}

func TestNormalizeRejectsNegativePaging(t *testing.T) {
	_, err := query.Normalize(query.Params{Page: -1}, nil)
	require.ErrorIs(t, err, query.ErrInvalidPaging)

	_, err = query.Normalize(query.Params{PerPage: -5}, nil)
	require.ErrorIs(t, err, query.ErrInvalidPaging)
}

func TestNormalizeIsPure(t *testing.T) {
	p := query.Params{Page: 3, PerPage: 7, SortField: "email", Filter: "x"}
	a, err := query.Normalize(p, []string{"email"})
	require.NoError(t, err)
	b, err := query.Normalize(p, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// Whatever the search text, the built filter parses back into one contains
// clause per field carrying exactly that text.
func TestContainsAnyRoundTrip(t *testing.T) {
	fields := []string{"email", "name"}
	check := func(text string) bool {
		expr, err := filterexpr.Parse(query.ContainsAny(fields, text))
		if err != nil {
			return false
		}
		or, ok := expr.(*filterexpr.Logical)
		if !ok || or.Op != "||" {
			return false
		}
		for i, side := range []filterexpr.Expr{or.Left, or.Right} {
			cmp, ok := side.(*filterexpr.Comparison)
			if !ok {
				return false
			}
			if cmp.Left.Text != fields[i] || cmp.Op != "~" || cmp.Right.Kind != filterexpr.OperandString || cmp.Right.Text != text {
				return false
			}
		}
		return true
	}
	require.NoError(t, quick.Check(check, &quick.Config{MaxCount: 500}))

	for _, text := range []string{`"`, `\`, `\"`, `a" || id != "`, `""\\`} {
		assert.True(t, check(text), "text %q", text)
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"plain"`, query.Quote("plain"))
	assert.Equal(t, `"say \"hi\""`, query.Quote(`say "hi"`))
	assert.Equal(t, `"C:\\tmp"`, query.Quote(`C:\tmp`))
}

func TestNormalizeGolden(t *testing.T) {
	cases := []struct {
		name       string
		params     query.Params
		searchable []string
	}{
		{name: "defaults"},
		{name: "explicit-paging", params: query.Params{Page: 2, PerPage: 5}},
		{name: "sort-descending", params: query.Params{SortField: "name", SortOrder: query.Descending}},
		{name: "sort-ascending", params: query.Params{SortField: "email"}},
		{name: "search", params: query.Params{Filter: "ann"}, searchable: []string{"email", "name"}},
		{name: "search-escaping", params: query.Params{Filter: `a"b\c`}, searchable: []string{"name"}},
		{name: "raw-filter", params: query.Params{Filter: `status = "open"`}},
	}

	var buf bytes.Buffer
	for _, tc := range cases {
		n, err := query.Normalize(tc.params, tc.searchable)
		require.NoError(t, err, tc.name)
		key := query.NewKey("users", n)
		fmt.Fprintf(&buf, "%s page=%d perPage=%d sort=%q filter=%q\n", tc.name, n.Page, n.PerPage, n.Sort, n.Filter)
		fmt.Fprintf(&buf, "  key=%s\n", key.Query)
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "normalize", buf.Bytes())
}
