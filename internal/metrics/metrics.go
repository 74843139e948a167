// Package metrics holds the Prometheus collectors shared by the assistant.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts backend exchanges by kind (text, image) and outcome
	// (success, failure, stale).
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drcare",
		Name:      "backend_requests_total",
		Help:      "Backend exchanges by kind and outcome.",
	}, []string{"kind", "outcome"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "drcare",
		Name:      "backend_request_duration_seconds",
		Help:      "Latency of backend exchanges.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"kind"})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "drcare",
		Name:      "backend_requests_in_flight",
		Help:      "Backend exchanges issued and not yet settled.",
	})

	VoiceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drcare",
		Name:      "voice_events_total",
		Help:      "Voice facility events by machine (listen, speak) and event.",
	}, []string{"machine", "event"})

	RecordsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drcare",
		Name:      "history_appends_total",
		Help:      "History append attempts by result.",
	}, []string{"result"})

	ModeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drcare",
		Name:      "panel_mode_transitions_total",
		Help:      "Panel mode selections by target mode.",
	}, []string{"mode"})
)
