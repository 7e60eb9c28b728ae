package matches

import (
	"github.com/bissquit/job-alerts/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "matching",
			Name:      "jobs_processed_total",
			Help:      "Jobs run through the matcher",
		},
	)

	pairsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "matching",
			Name:      "owners_evaluated_total",
			Help:      "Owner/job pairs by outcome",
		},
		[]string{"outcome"},
	)

	processDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "matching",
			Name:      "process_duration_seconds",
			Help:      "Time to match one job",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	expiredPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "pending_matches",
			Name:      "expired_purged_total",
			Help:      "Pending matches deleted after their TTL",
		},
	)
)
