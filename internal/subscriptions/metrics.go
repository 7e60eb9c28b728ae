package subscriptions

import (
	"github.com/bissquit/job-alerts/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	indexMutationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "index",
			Name:      "mutation_failures_total",
			Help:      "Index updates that failed and were skipped",
		},
		[]string{"stage"},
	)

	indexMutations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "index",
			Name:      "mutations_total",
			Help:      "Index mutations applied",
		},
	)

	activeLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "subscriptions",
			Name:      "active_limit_rejections_total",
			Help:      "Writes rejected because the owner reached the active subscription limit",
		},
	)
)
