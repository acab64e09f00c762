// Package metrics holds the Prometheus collectors shared by the Worker
// Runtime and Autoscaler processes, registered against a single
// registry per process and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "callscribe"

// Worker-side counters and histograms (incremented directly by
// internal/worker as each job is handled).
var (
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Total jobs processed by the worker runtime, by subject and outcome.",
	}, []string{"subject", "outcome"})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "End-to-end per-job processing duration, download through notification dispatch.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~1024s
	}, []string{"subject"})

	EngineErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_errors_total",
		Help:      "Transcription engine invocation errors, by provider family and error kind.",
	}, []string{"family", "kind"})

	NotificationsDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dispatched_total",
		Help:      "Notification delivery attempts to a channel URI, by result.",
	}, []string{"result"})
)

// Autoscaler-side gauges (set directly by internal/autoscaler after
// each scaling decision, not scraped live — see QueueCollector for the
// live-queue-state gauges that need to be read at scrape time).
var (
	AutoscalerInstances = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "autoscaler_instances",
		Help:      "Instances in the GPU worker fleet, by status.",
	}, []string{"status"}) // running | pending

	AutoscalerScalingDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "autoscaler_scaling_decisions_total",
		Help:      "Scaling decisions made, by direction.",
	}, []string{"direction"}) // up | down | none
)

func init() {
	prometheus.MustRegister(
		JobsTotal,
		JobDuration,
		EngineErrorsTotal,
		NotificationsDispatchedTotal,
		AutoscalerInstances,
		AutoscalerScalingDecisionsTotal,
	)
}
