package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionChecks counts permission evaluations and their outcome (allow|deny|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"action", "result"},
	)

	// EventsPublished counts catalog events appended to the log, by event type.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_events_published_total",
			Help: "Total number of events appended to the event log",
		},
		[]string{"type"},
	)

	// EventsDropped counts events dropped for subscribers that fell behind.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_events_dropped_total",
			Help: "Total number of events dropped due to subscriber backpressure",
		},
	)

	// ActiveSubscribers tracks currently connected event subscribers.
	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_active_subscribers",
			Help: "Number of live event subscribers",
		},
	)

	// ActiveLeases tracks currently held lock leases.
	ActiveLeases = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_active_lock_leases",
			Help: "Number of currently held lock leases",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corral_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
