package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gugudan_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gugudan_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Turn metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gugudan_turns_started_total",
			Help: "Total chat turns admitted",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gugudan_turns_completed_total",
			Help: "Total chat turns settled",
		},
		[]string{"outcome"}, // "ok", "partial" or "failed"
	)

	TurnsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gugudan_turns_rejected_total",
			Help: "Total chat turns rejected before any write",
		},
		[]string{"reason"}, // "quota", "room_not_found", "room_inactive"
	)

	CompletionChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gugudan_completion_chunks_total",
			Help: "Total reply fragments relayed from the completion source",
		},
	)

	// Accounting metrics
	UsageRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gugudan_usage_record_failures_total",
			Help: "Total failed usage recordings (accounting is eventually consistent)",
		},
	)
)
