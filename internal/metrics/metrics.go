package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NWSAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwsannounce_api_calls_total",
			Help: "Total api.weather.gov calls by endpoint and outcome",
		},
		[]string{"endpoint", "status"},
	)

	NWSAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nwsannounce_api_latency_seconds",
			Help:    "api.weather.gov call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	NWSAPIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwsannounce_api_retries_total",
			Help: "Retried api.weather.gov calls",
		},
		[]string{"endpoint"},
	)

	AlertEntriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nwsannounce_alert_entries_dropped_total",
			Help: "Alert feed entries dropped for missing required fields",
		},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwsannounce_cycles_total",
			Help: "Check cycles by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	CycleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwsannounce_cycle_failures_total",
			Help: "Failed cycle stages by stage and error kind",
		},
		[]string{"stage", "kind"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nwsannounce_cycle_duration_seconds",
			Help:    "Wall time of a complete staged fetch",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
	)

	SchedulerPhase = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nwsannounce_scheduler_phase",
			Help: "Scheduler phase: 0 idle, 1 waiting, 2 running",
		},
	)

	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nwsannounce_active_alerts",
			Help: "Alerts in the active set after the last successful fetch",
		},
	)

	NewAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nwsannounce_new_alerts_total",
			Help: "Alerts that passed the thresholds and were reported as new",
		},
	)

	AnnouncementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwsannounce_announcements_total",
			Help: "Spoken announcement items by outcome",
		},
		[]string{"outcome"},
	)
)
