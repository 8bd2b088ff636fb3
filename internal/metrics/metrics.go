// Package metrics holds the engine's Prometheus collectors. They register
// with the default registry, which /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_executions_total",
			Help: "Total number of finished executions",
		},
		[]string{"language", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderunner_execution_duration_seconds",
			Help:    "Wall-clock duration of runs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"language", "phase"}, // phase: "primary", "test_case", "total"
	)

	TestCasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_test_cases_total",
			Help: "Total number of validated test cases",
		},
		[]string{"language", "result"}, // result: "passed", "failed"
	)

	TimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_timeouts_total",
			Help: "Total number of runs killed at their deadline",
		},
		[]string{"language"},
	)

	MemoryUsage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderunner_memory_usage_kb",
			Help:    "Peak memory usage per primary run in KB (only where reported)",
			Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144, 524288},
		},
		[]string{"language"},
	)

	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderunner_active_executions",
			Help: "Number of executions currently running",
		},
	)

	QueuedExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderunner_queued_executions",
			Help: "Number of submitted executions waiting for a slot",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderunner_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)

	PrunedExecutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderunner_pruned_executions_total",
			Help: "Total number of finished executions removed by retention",
		},
	)
)
