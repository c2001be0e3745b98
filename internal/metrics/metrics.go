// Package metrics exposes run-outcome counters for the /metrics endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billwatch_runs_total",
			Help: "Total orchestrator runs by outcome",
		},
		[]string{"outcome"},
	)
	publishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billwatch_published_total",
			Help: "Total bills published",
		},
	)
	quarantinedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billwatch_quarantined_total",
			Help: "Total quarantine transitions by stage",
		},
		[]string{"stage"},
	)
	recoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billwatch_recovered_total",
			Help: "Total bills recovered from quarantine",
		},
	)
	lockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billwatch_locked_total",
			Help: "Total bills permanently locked after a failed recheck",
		},
	)
)

var registerOnce sync.Once

// Init registers the collectors. Must be called once at startup.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(runsTotal, publishedTotal, quarantinedTotal, recoveredTotal, lockedTotal)
	})
}

// RecordRun counts a finished run by outcome.
func RecordRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

// RecordPublished counts a successful publish.
func RecordPublished() {
	publishedTotal.Inc()
}

// RecordQuarantined counts a quarantine transition at the named stage.
func RecordQuarantined(stage string) {
	quarantinedTotal.WithLabelValues(stage).Inc()
}

// RecordRecovered counts a successful quarantine recovery.
func RecordRecovered() {
	recoveredTotal.Inc()
}

// RecordLocked counts a permanent lockout.
func RecordLocked() {
	lockedTotal.Inc()
}
