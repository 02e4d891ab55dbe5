package query

import "fmt"

// Key identifies one cached result set. The collection is always part of the
// key so results never leak between collections.
type Key struct {
	Collection string
	// Query is the canonical JSON of the normalised query.
	Query string
}

// NewKey builds the cache key for a normalised query against collection.
func NewKey(collection string, n Normalized) Key {
	data, err := MarshalCanonical(map[string]any{
		"page":    n.Page,
		"perPage": n.PerPage,
		"sort":    n.Sort,
		"filter":  n.Filter,
	})
	if err != nil {
		// Only ints and strings are encoded above.
		panic(fmt.Sprintf("query: canonical key: %v", err))
	}
	return Key{Collection: collection, Query: string(data)}
}

// String renders the key as a canonical JSON pair, e.g. ["users","{...}"].
func (k Key) String() string {
	data, err := MarshalCanonical([]string{k.Collection, k.Query})
	if err != nil {
		panic(fmt.Sprintf("query: canonical key: %v", err))
	}
	return string(data)
}
