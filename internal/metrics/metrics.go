package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for TurnsTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeFallback  = "fallback"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

var (
	// TurnsTotal counts finished turns by how they ended.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localchat",
			Name:      "turns_total",
			Help:      "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	StreamFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "localchat",
			Name:      "stream_fallbacks_total",
			Help:      "Total number of streaming failures recovered with a blocking call",
		},
	)

	FragmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "localchat",
			Name:      "fragments_total",
			Help:      "Total number of streamed fragments delivered",
		},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "localchat",
			Name:      "turn_duration_seconds",
			Help:      "Time from request to terminal event",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)
)
