package jobfeed

import (
	"github.com/bissquit/job-alerts/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Job change events by outcome",
		},
		[]string{"outcome"},
	)

	reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Feed sessions that ended with an error",
		},
	)

	cursorPosition = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "feed",
			Name:      "cursor",
			Help:      "Last processed job change event ID",
		},
	)
)
