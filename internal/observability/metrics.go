package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	gradingJobsTotal     *prometheus.CounterVec
	gradingJobSeconds    *prometheus.HistogramVec
	submissionsTotal     *prometheus.CounterVec
	queueDeliveriesTotal *prometheus.CounterVec
	assignmentCacheTotal *prometheus.CounterVec
	audioRejectedTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the worker.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idest_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idest_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idest_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		gradingJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idest_grading_jobs_total",
			Help: "Grading jobs handled by the worker, by skill and outcome.",
		}, []string{"skill", "outcome"})

		gradingJobSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idest_grading_job_duration_seconds",
			Help:    "Time spent handling one grading job.",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"skill"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idest_submissions_created_total",
			Help: "Submissions created, by skill and initial status.",
		}, []string{"skill", "status"})

		queueDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idest_queue_deliveries_total",
			Help: "Queue deliveries settled, by driver and outcome.",
		}, []string{"driver", "outcome"})

		assignmentCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idest_assignment_cache_requests_total",
			Help: "Assignment cache lookups by result.",
		}, []string{"result"})

		audioRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idest_audio_uploads_rejected_total",
			Help: "Speaking uploads rejected before enqueue, by reason.",
		}, []string{"reason"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			gradingJobsTotal,
			gradingJobSeconds,
			submissionsTotal,
			queueDeliveriesTotal,
			assignmentCacheTotal,
			audioRejectedTotal,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// GradingJobs counts worker outcomes.
func GradingJobs() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingJobsTotal
}

// GradingJobDuration observes time per job.
func GradingJobDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingJobSeconds
}

// SubmissionsCreated counts new submissions.
func SubmissionsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// QueueDeliveries counts ack, retry and dead-letter outcomes.
func QueueDeliveries() *prometheus.CounterVec {
	RegisterMetrics()
	return queueDeliveriesTotal
}

// AssignmentCache counts cache hits and misses.
func AssignmentCache() *prometheus.CounterVec {
	RegisterMetrics()
	return assignmentCacheTotal
}

// AudioRejected counts refused speaking uploads.
func AudioRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return audioRejectedTotal
}
