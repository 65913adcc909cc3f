// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts processed events by final outcome
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floodgate_events_total",
			Help: "Total number of events processed, by outcome",
		},
		[]string{"outcome"},
	)

	// GateDecisionsTotal counts admission decisions
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floodgate_gate_decisions_total",
			Help: "Total number of admission decisions, by decision",
		},
		[]string{"decision"},
	)

	// ClassifierDurationSeconds measures classifier call latency
	ClassifierDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "floodgate_classifier_duration_seconds",
			Help:    "Latency of classifier calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 18), // 10µs to ~1.3s
		},
		[]string{"classifier"},
	)

	// ClassifierErrorsTotal counts failed classifier calls
	ClassifierErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floodgate_classifier_errors_total",
			Help: "Total number of classifier failures, by reason (timeout/error)",
		},
		[]string{"classifier", "reason"},
	)

	// BlockedSources tracks sources under an active block
	BlockedSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodgate_blocked_sources",
			Help: "Number of sources currently blocked",
		},
	)

	// TrackedSources tracks sources with a sliding window
	TrackedSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodgate_tracked_sources",
			Help: "Number of sources with a live sliding window",
		},
	)

	// ActionsTotal counts mitigation actions delivered to sinks
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floodgate_actions_total",
			Help: "Total number of mitigation actions, by sink and result (sent/error/dropped)",
		},
		[]string{"sink", "result"},
	)

	// DispatchQueueDepth tracks per-partition queue length
	DispatchQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "floodgate_dispatch_queue_depth",
			Help: "Number of events waiting in each dispatch partition",
		},
		[]string{"partition"},
	)

	// LedgerEntries tracks remembered detections
	LedgerEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floodgate_ledger_entries",
			Help: "Number of detections held in the ledger",
		},
	)
)
