// Package store turns a Descriptor into cached, retrying, realtime-synchronised
// operations over a collection.Backend.
//
// Reads are keyed by the normalised query (see package query). Each key owns
// one entry whose lifecycle is absent, loading, ready or error; previous data
// stays visible while a refetch runs, and a newer fetch for the same key
// supersedes an older one. Writes go through the retry executor and then
// invalidate every cached query of the collection. Subscribe applies pushed
// change events to the cached items with Reconcile and revalidates.
//
//	users, _ := store.New(client, store.Descriptor{
//		Collection:       "users",
//		SearchableFields: []string{"email", "name"},
//	})
//	page, err := users.List(ctx, query.Params{PerPage: 5, Filter: "ann"})
package store
