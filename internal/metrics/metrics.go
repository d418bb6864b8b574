// Package metrics exposes Prometheus instrumentation for a monitor instance.
//
// Collectors are owned per instance and registered against an injected
// Registerer, so multiple monitors in one process never collide and no
// package-level state exists.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the monitor's collectors.
type Metrics struct {
	QueriesRegistered prometheus.Counter
	QueriesRemoved    prometheus.Counter
	QueriesPurged     prometheus.Counter

	Flushes       prometheus.Counter
	FlushFailures prometheus.Counter

	Matches       prometheus.Counter
	Candidates    prometheus.Counter
	MatchHits     prometheus.Counter
	MatchDuration prometheus.Histogram

	PurgeCycles   prometheus.Counter
	PurgeFailures prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg yields
// working but unexported collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "queries_registered_total",
			Help: "Query registrations committed to the store (including replacements).",
		}),
		QueriesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "queries_removed_total",
			Help: "Query removals committed to the store.",
		}),
		QueriesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "queries_purged_total",
			Help: "Queries removed by the purge scheduler.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "flushes_total",
			Help: "Successful update-buffer flushes.",
		}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "flush_failures_total",
			Help: "Flushes that failed after bounded retries.",
		}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "matches_total",
			Help: "Documents matched.",
		}),
		Candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "presearch_candidates_total",
			Help: "Presearch candidates evaluated.",
		}),
		MatchHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "match_hits_total",
			Help: "Queries confirmed by exact evaluation.",
		}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "querywatch", Name: "match_duration_seconds",
			Help:    "End-to-end match() latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		PurgeCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "purge_cycles_total",
			Help: "Completed purge cycles.",
		}),
		PurgeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querywatch", Name: "purge_failures_total",
			Help: "Purge cycles that failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.QueriesRegistered, m.QueriesRemoved, m.QueriesPurged,
			m.Flushes, m.FlushFailures,
			m.Matches, m.Candidates, m.MatchHits, m.MatchDuration,
			m.PurgeCycles, m.PurgeFailures,
		)
	}
	return m
}

// Nop returns unregistered collectors for callers that do not export metrics.
func Nop() *Metrics {
	return New(nil)
}
