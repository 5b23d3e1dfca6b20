// Package metrics exposes Prometheus instrumentation for the generation
// engine. All Collector methods are nil-safe so instrumentation stays
// optional for library callers.
package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankforge_model_attempts_total",
			Help: "Model call attempts by decoding profile and outcome",
		},
		[]string{"profile", "status"},
	)

	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankforge_attempt_duration_seconds",
			Help:    "Model call attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"profile"},
	)

	duplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rankforge_duplicates_total",
			Help: "Duplicate items discarded during absorption",
		},
	)

	backfillRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rankforge_backfill_rounds",
			Help:    "Backfill rounds needed per run",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)

	breakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rankforge_circuit_breaker_trips_total",
			Help: "Runs terminated early by the no-progress circuit breaker",
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankforge_runs_total",
			Help: "Engine runs by outcome (full = reached target, short = best-effort shortfall)",
		},
		[]string{"outcome"},
	)
)

// Collector records engine telemetry. A nil *Collector is a no-op.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordAttempt records one model call attempt
func (c *Collector) RecordAttempt(profile string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	modelAttempts.WithLabelValues(profile, status).Inc()
	attemptDuration.WithLabelValues(profile).Observe(duration.Seconds())
}

// RecordDuplicates adds discarded duplicates to the running total
func (c *Collector) RecordDuplicates(count int) {
	if c == nil || count <= 0 {
		return
	}
	duplicatesTotal.Add(float64(count))
}

// RecordRun records a completed engine run
func (c *Collector) RecordRun(rounds int, breakerTripped, reachedTarget bool) {
	if c == nil {
		return
	}
	backfillRounds.Observe(float64(rounds))
	if breakerTripped {
		breakerTrips.Inc()
	}
	outcome := "full"
	if !reachedTarget {
		outcome = "short"
	}
	runsTotal.WithLabelValues(outcome).Inc()
}
