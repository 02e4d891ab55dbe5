// Package retry wraps fallible remote calls with bounded exponential backoff.
// Every failed attempt is logged with the caller's label; only the final
// failure reaches the user-facing Notifier, exactly once, before the error is
// returned. Retrying assumes the wrapped call can safely run more than once.
package retry
