// Package metrics provides the centralized Prometheus metrics registry for
// the linecheck worker. All metrics are defined in their respective
// packages (client, dispatch, budget, progress) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the worker.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - linecheck_requests_total{status} (Counter): Portal requests by outcome (ok, status code, network_error)
//   - linecheck_request_duration_seconds (Histogram): Portal request duration
//   - linecheck_call_retries_total (Counter): Call retry attempts
//   - linecheck_call_exhausted_total (Counter): Items that exhausted all attempts
//
// Dispatch Metrics (pkg/dispatch):
//   - linecheck_batches_total{outcome} (Counter): Batches by outcome (ok, error)
//   - linecheck_batch_duration_seconds (Histogram): Batch processing duration
//   - linecheck_items_total{result} (Counter): Items by result (ok, failed, recovered, terminally_failed)
//
// Budget Metrics (pkg/budget):
//   - linecheck_budget_remaining (Gauge): Failure budget left in the current window
//   - linecheck_budget_blocks_total (Counter): Calls blocked due to critical budget
//   - linecheck_budget_throttles_total (Counter): Calls throttled due to low budget
//
// Progress Metrics (pkg/progress):
//   - linecheck_checkpoints_total (Counter): Progress checkpoint writes
//
// Example Prometheus Queries:
//
//   # Exhaustion Rate
//   rate(linecheck_call_exhausted_total[5m]) / rate(linecheck_requests_total[5m])
//
//   # Budget Status
//   linecheck_budget_remaining < 20
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(linecheck_request_duration_seconds_bucket[5m]))
//
//   # Batch Error Rate
//   rate(linecheck_batches_total{outcome="error"}[5m])
