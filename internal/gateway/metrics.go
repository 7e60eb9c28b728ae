package gateway

import (
	"github.com/bissquit/job-alerts/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Published counts publish attempts by routing key and status.
	Published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "gateway",
			Name:      "published_total",
			Help:      "Digest notifications published by routing key and status",
		},
		[]string{"routing_key", "status"},
	)

	// PublishDuration observes publish latency including rate limiting.
	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "gateway",
			Name:      "publish_duration_seconds",
			Help:      "Time to publish a notification",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"routing_key"},
	)
)
