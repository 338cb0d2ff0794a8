package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ticketfire"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	TaskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Accepted and rejected task status transitions.",
		},
		[]string{"from", "to", "result"},
	)

	PurchaseAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_attempts_total",
			Help:      "Purchase attempts by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	PurchaseAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "purchase_attempt_duration_seconds",
			Help:      "Duration of a single purchase attempt.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	ScheduledJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_jobs",
			Help:      "Armed jobs that have not fired yet.",
		},
		[]string{"kind"},
	)

	JobFireLateness = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_fire_lateness_seconds",
			Help:      "Delay between a job's planned fire time and the moment it actually ran.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	MonitorPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_polls_total",
			Help:      "Availability monitor iterations by result.",
		},
		[]string{"result"},
	)

	WatchedTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_tasks",
			Help:      "Tasks currently registered with the availability monitor.",
		},
	)

	FeedFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Ticket status feed requests by result.",
		},
		[]string{"result"},
	)

	BroadcastFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Events a publisher failed to deliver.",
		},
		[]string{"publisher"},
	)

	ClockOffsetSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_offset_seconds",
			Help:      "Offset applied to the local clock after the last successful time sync.",
		},
	)
)

var registerOnce sync.Once

// RegisterMetrics adds every collector to the default registry. Later calls are no-ops.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			TaskTransitionsTotal,
			PurchaseAttemptsTotal,
			PurchaseAttemptDuration,
			ScheduledJobs,
			JobFireLateness,
			MonitorPollsTotal,
			WatchedTasks,
			FeedFetchesTotal,
			BroadcastFailuresTotal,
			ClockOffsetSeconds,
		)
	})
}
