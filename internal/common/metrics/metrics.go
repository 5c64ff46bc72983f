// internal/common/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	VerifierCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_verifier_calls_total",
			Help: "Calls to the billing provider by product kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	VerifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_verifier_duration_seconds",
			Help:    "Latency of billing provider calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_reconciliations_total",
			Help: "Entitlement writes by source and resulting entitlement",
		},
		[]string{"source", "is_pro"},
	)

	NotificationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_ingested_total",
			Help: "Bus notifications by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_registrations_total",
			Help: "Purchase registrations by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)
)

// ObserveJob records the outcome of one Zeebe job. errorCode is empty on success.
func ObserveJob(taskType string, started time.Time, errorCode string) {
	if errorCode == "" {
		WorkerJobsCompleted.WithLabelValues(taskType).Inc()
	} else {
		WorkerJobsFailed.WithLabelValues(taskType, errorCode).Inc()
	}
	WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(started).Seconds())
}
