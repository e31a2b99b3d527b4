// Package metrics defines the Prometheus collectors tempograph exports.
//
// Collectors are package variables registered with the default registry,
// so instrumented packages increment them directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tempograph"

var (
	// CacheLookups counts temporal lookups.
	// Labels: result (hit, miss)
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Temporal lookups, split by memo hit or miss",
	}, []string{"result"})

	// HistoryLoads counts bulk history loads from the backend.
	// Labels: status (ok, error)
	HistoryLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "history_loads_total",
		Help:      "Bulk loads of one (entity, key, branch) history",
	}, []string{"status"})

	// Writes counts fact writes.
	// Labels: kind (graph, node, edge), op (set, delete)
	Writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "writes_total",
		Help:      "Fact writes applied to the main timeline",
	}, []string{"kind", "op"})

	// Dispatches counts change notifications delivered to subscribers.
	// Labels: cause (write, travel)
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "changes_total",
		Help:      "Change notifications delivered to subscribers",
	}, []string{"cause"})

	// Recomputes counts keys re-resolved on time travel because their
	// validity window no longer covered the cursor.
	Recomputes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "recomputes_total",
		Help:      "Keys re-resolved after time travel",
	})

	// Plans counts closed plans.
	// Labels: outcome (committed, discarded)
	Plans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "plan",
		Name:      "closed_total",
		Help:      "Plans closed, by outcome",
	}, []string{"outcome"})

	// BackendLatency measures backend round trips.
	// Labels: op
	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "latency_seconds",
		Help:      "Backend operation latency in seconds",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"op"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
