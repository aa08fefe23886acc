// Package metrics registers the process-wide prometheus collectors.
// Exposed on /metrics by the api router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts ledger engine operations by type and outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_ledger_operations_total",
		Help: "Ledger engine operations",
	}, []string{"op", "outcome"})

	// MirrorSubmissions counts mirror adapter calls by entry point and outcome.
	MirrorSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_mirror_submissions_total",
		Help: "Mirror adapter submissions",
	}, []string{"entry", "outcome"})

	// MirrorLatency observes mirror round-trip time, including receipt wait.
	MirrorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bank_mirror_submission_duration_seconds",
		Help:    "Mirror submission latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// HTTPRequests counts API requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})
)

// OpOutcome maps an operation error to a metric label.
func OpOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
