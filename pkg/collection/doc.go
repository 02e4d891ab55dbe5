// Package collection talks to a PocketBase-style record-collection backend.
//
// The Backend interface is the contract the store layer depends on: paged
// list with sort and filter expressions, create, update, delete, and a
// per-collection change feed. New returns a Client backed by the HTTP records
// API (/api/collections/{collection}/records) with realtime updates over
// server-sent events (/api/realtime); the mock sub-package provides an
// in-memory Backend with the same semantics for tests and local development.
//
// Records keep id, created and updated as typed fields and everything else in
// an untyped Fields map. Decode hydrates a typed model from a Record.
package collection
