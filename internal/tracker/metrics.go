package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ingestTotal counts ingestion attempts by outcome.
	// Labels: status (success-new, success-changed, ..., fetch-error)
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "report_tracker",
		Subsystem: "ingest",
		Name:      "attempts_total",
		Help:      "Total ingestion attempts by outcome status",
	}, []string{"status"})

	ingestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "report_tracker",
		Subsystem: "ingest",
		Name:      "duration_seconds",
		Help:      "Time from extraction start to logged outcome",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"status"})

	// commitConflicts counts commits rejected by the store because another
	// writer advanced the identity first.
	commitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "report_tracker",
		Subsystem: "store",
		Name:      "commit_conflicts_total",
		Help:      "Total version commits rejected with a conflict",
	})

	redundantCommits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "report_tracker",
		Subsystem: "store",
		Name:      "redundant_commits_total",
		Help:      "Total commits discarded because a concurrent writer already stored the content",
	})
)
