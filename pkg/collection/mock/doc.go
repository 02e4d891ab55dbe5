// Package mock provides an in-memory collection.Backend. It evaluates the
// backend filter grammar, honours multi-field sort expressions, pages results
// with the same totals as the HTTP API and emits change events to
// subscribers. FailNext and WithLatency inject faults for retry and
// stale-data scenarios.
package mock
