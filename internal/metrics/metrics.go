// Package metrics exposes Prometheus collectors for the task pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineTasksTotal             *prometheus.CounterVec
	pipelineSweepsTotal            *prometheus.CounterVec
	pipelineFaultsTotal            prometheus.Counter
	pipelinePhaseDurationSeconds   *prometheus.HistogramVec
	pipelineActiveWorkers          prometheus.Gauge
	pipelineWarningAdmissionsTotal *prometheus.CounterVec
	fetchPolitenessDelaySeconds    *prometheus.HistogramVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_tasks_total",
				Help: "Total number of tasks handled, labeled by instance and outcome.",
			},
			[]string{"instance", "outcome"},
		)

		pipelineSweepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_sweeps_total",
				Help: "Total number of worker sweeps, labeled by result (worked, idle, faulted).",
			},
			[]string{"result"},
		)

		pipelineFaultsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_faults_total",
				Help: "Total number of unclassified faults that escaped a sweep.",
			},
		)

		pipelinePhaseDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_phase_duration_seconds",
				Help:    "Histogram of crawl and process phase durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"phase"},
		)

		pipelineActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_active_workers",
				Help: "Number of worker loops currently running.",
			},
		)

		pipelineWarningAdmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_warning_pool_admissions_total",
				Help: "Warning pool decisions, labeled by result (list, hash, duplicate, full).",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of ops HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		fetchPolitenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_fetch_politeness_delay_seconds",
				Help:    "Time fetches waited on the per-host limiter, labeled by host.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"host"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask increments the task counter for an instance outcome.
func ObserveTask(instance, outcome string) {
	pipelineTasksTotal.WithLabelValues(instance, outcome).Inc()
}

// ObserveSweep counts one sweep result.
func ObserveSweep(result string) {
	pipelineSweepsTotal.WithLabelValues(result).Inc()
}

// ObserveFault counts one unclassified fault.
func ObserveFault() {
	pipelineFaultsTotal.Inc()
}

// ObservePhase records the duration of a task phase.
func ObservePhase(phase string, seconds float64) {
	pipelinePhaseDurationSeconds.WithLabelValues(phase).Observe(seconds)
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	pipelineActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	pipelineActiveWorkers.Dec()
}

// ObserveWarningAdmission counts one warning pool decision.
func ObserveWarningAdmission(result string) {
	pipelineWarningAdmissionsTotal.WithLabelValues(result).Inc()
}

// ObservePolitenessDelay records one per-host limiter wait.
func ObservePolitenessDelay(host string, d time.Duration) {
	fetchPolitenessDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, http.StatusText(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
