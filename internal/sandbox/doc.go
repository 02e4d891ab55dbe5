// Package sandbox serves the PocketBase records API on top of the in-memory
// backend so applications can be developed and tested without a real
// server. It covers list/get/create/update/delete, /api/health and the
// /api/realtime change feed, with optional latency and failure injection.
package sandbox
