package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors for the service's operational counters
var (
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nlp_tasks_processed_total",
		Help: "Tasks driven to a terminal state, by type and outcome",
	}, []string{"task_type", "status"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nlp_task_duration_seconds",
		Help:    "Wall time from task creation to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"task_type"})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nlp_cache_requests_total",
		Help: "Result cache lookups, by task type and outcome",
	}, []string{"task_type", "outcome"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nlp_webhook_deliveries_total",
		Help: "Webhook delivery attempts resolved, by outcome",
	}, []string{"outcome"})

	BatchJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nlp_batch_jobs_processed_total",
		Help: "Batch jobs driven to a terminal state, by outcome",
	}, []string{"status"})
)

// MetricsHandler exposes the Prometheus scrape endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
