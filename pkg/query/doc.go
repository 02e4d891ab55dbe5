// Package query turns loosely specified paging, sort and filter inputs into the
// canonical tuple the backend expects, and derives stable cache keys from it.
//
// Filter and sort strings use the backend's grammar (PocketBase style):
//
//	sort:   -created, name
//	filter: email~"ann" || name~"ann"
//
// Normalize is pure, so equal inputs always yield equal keys.
package query
