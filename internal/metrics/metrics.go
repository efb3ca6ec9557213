package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skillgraph/backend/pkg/graph"
)

const namespace = "skillgraph"

var (
	// Labels: operation, outcome ("ok" or the error reason)
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Graph engine calls by operation and outcome",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "operation_duration_seconds",
		Help:      "Graph engine call latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"operation"})

	traversalNodes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "traversal_nodes",
		Help:      "Number of nodes returned by a traversal",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"operation"})

	// Labels: outcome (created, failed)
	bulkItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bulk_items_total",
		Help:      "Items processed by bulk edge creation",
	}, []string{"outcome"})

	// Labels: outcome (ok, retry, dead_letter)
	detachMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "detach_messages_total",
		Help:      "Detach messages handled by the worker",
	}, []string{"outcome"})
)

// Outcome returns the label value recorded for err.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return graph.Reason(err)
}

// Observe records one engine call that started at start.
func Observe(operation string, start time.Time, err error) {
	operations.WithLabelValues(operation, Outcome(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func ObserveTraversal(operation string, nodes int) {
	traversalNodes.WithLabelValues(operation).Observe(float64(nodes))
}

func ObserveBulk(created, failed int) {
	bulkItems.WithLabelValues("created").Add(float64(created))
	bulkItems.WithLabelValues("failed").Add(float64(failed))
}

func ObserveDetach(outcome string) {
	detachMessages.WithLabelValues(outcome).Inc()
}
