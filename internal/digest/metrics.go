package digest

import (
	"github.com/bissquit/job-alerts/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "digest",
			Name:      "state",
			Help:      "Digest aggregator state: 0 idle, 1 collecting, 2 dispatching, 3 cleaning",
		},
		[]string{"frequency"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "digest",
			Name:      "runs_total",
			Help:      "Digest runs by frequency and outcome",
		},
		[]string{"frequency", "outcome"},
	)

	groupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "digest",
			Name:      "groups_total",
			Help:      "Digest groups by frequency and result",
		},
		[]string{"frequency", "result"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "digest",
			Name:      "run_duration_seconds",
			Help:      "Digest run duration",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"frequency"},
	)

	scheduledTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Scheduled task executions by task and outcome",
		},
		[]string{"task", "outcome"},
	)
)
