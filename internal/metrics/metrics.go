// Package metrics exposes Prometheus collectors for collection operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts collection operations (find, insert, update, etc.).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunstore_operations_total",
			Help: "Total number of collection operations",
		},
		[]string{"operation", "status"},
	)
	// OperationDuration is the latency of collection operations, queue wait
	// included.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunstore_operation_duration_seconds",
			Help:    "Collection operation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		},
		[]string{"operation"},
	)
	// CandidatesScanned is the number of candidates a cursor execution pulled
	// from its source.
	CandidatesScanned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bunstore_cursor_candidates_scanned",
			Help:    "Candidate documents examined per cursor execution",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
	// UniqueViolations counts writes rejected by a unique index.
	UniqueViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunstore_unique_violations_total",
			Help: "Total number of writes rejected by a unique index",
		},
		[]string{"collection", "field"},
	)
)

// Observe records one finished operation.
func Observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
