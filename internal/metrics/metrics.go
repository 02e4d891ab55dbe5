package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "collection_sdk"

	// LookupHit and LookupMiss label cache lookups.
	LookupHit  = "hit"
	LookupMiss = "miss"
)

var (
	// RetryAttempts counts every executed attempt, successful or not.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of attempts made by the retry executor",
		},
		[]string{"operation", "outcome"},
	)

	// RetryTerminalFailures counts operations that exhausted their retries.
	RetryTerminalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "terminal_failures_total",
			Help:      "Total number of operations that failed after exhausting retries",
		},
		[]string{"operation"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by collection and result",
		},
		[]string{"collection", "result"},
	)

	cacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Collection-wide cache invalidations",
		},
		[]string{"collection"},
	)

	changeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "change_events_total",
			Help:      "Change events reconciled into cached results",
		},
		[]string{"collection", "action"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of list fetches including retries",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"collection", "outcome"},
	)
)

// ObserveAttempt records one retry attempt outcome ("ok" or "error").
func ObserveAttempt(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RetryAttempts.WithLabelValues(operation, outcome).Inc()
}

// ObserveTerminalFailure records an exhausted retry loop.
func ObserveTerminalFailure(operation string) {
	RetryTerminalFailures.WithLabelValues(operation).Inc()
}

// ObserveLookup records a cache hit or miss.
func ObserveLookup(collection string, hit bool) {
	result := LookupMiss
	if hit {
		result = LookupHit
	}
	cacheLookups.WithLabelValues(collection, result).Inc()
}

// ObserveInvalidation records a collection-wide invalidation.
func ObserveInvalidation(collection string) {
	cacheInvalidations.WithLabelValues(collection).Inc()
}

// ObserveChangeEvent records a reconciled change event.
func ObserveChangeEvent(collection, action string) {
	changeEvents.WithLabelValues(collection, action).Inc()
}

// ObserveFetch records how long a list fetch took.
func ObserveFetch(collection string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	fetchDuration.WithLabelValues(collection, outcome).Observe(time.Since(started).Seconds())
}
