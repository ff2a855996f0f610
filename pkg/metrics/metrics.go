// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deps_validator"

var (
	// Passes counts revalidation passes.
	// Labels: kind (file, batch, full), result (ok, error)
	Passes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "validation",
		Name:      "passes_total",
		Help:      "Revalidation passes by kind and result",
	}, []string{"kind", "result"})

	// PassDuration measures wall time of a pass including the engine call
	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "validation",
		Name:      "pass_duration_seconds",
		Help:      "Revalidation pass duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind"})

	// ScopeSize tracks affected files per resolved scope.
	// Labels: reason (direct_change, dependency_change, import_change, style_change)
	ScopeSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scope",
		Name:      "affected_files",
		Help:      "Files per validation scope",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 89},
	}, []string{"reason"})

	// ScopeTruncations counts scopes cut down to the configured limit
	ScopeTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scope",
		Name:      "truncations_total",
		Help:      "Scopes truncated to the affected-file limit",
	})

	// ChangeTypes counts classifier outcomes
	ChangeTypes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "changes_total",
		Help:      "Classified file changes by type",
	}, []string{"type"})

	// CacheWrites counts persisted cache writes.
	// Labels: result (ok, error, skipped)
	CacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "writes_total",
		Help:      "Cache writes by result",
	}, []string{"result"})

	// Findings is the size of the live finding set
	Findings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "findings",
		Name:      "live",
		Help:      "Findings in the live set",
	})

	// Stale is 1 while the workspace fingerprint has drifted
	Stale = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "staleness",
		Name:      "stale",
		Help:      "Whether the persisted state no longer matches the workspace",
	})
)

// Result maps an error to the result label
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var (
	// Subscribers is the number of open SSE subscriptions per topic
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Open event subscriptions by topic",
	}, []string{"topic"})

	// DroppedEvents counts events discarded for subscribers that fell behind
	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because a subscriber queue was full",
	}, []string{"topic"})
)
