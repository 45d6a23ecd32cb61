// Package metrics exposes Prometheus collectors for the sampler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pointsTotal                *prometheus.CounterVec
	batchesTotal               prometheus.Counter
	serviceCallsTotal          *prometheus.CounterVec
	serviceCallSeconds         *prometheus.HistogramVec
	rotationsTotal             *prometheus.CounterVec
	rollbacksTotal             prometheus.Counter
	imagesTotal                prometheus.Counter
	runsTotal                  *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sampler_points_total",
				Help: "Grid points evaluated in committed cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sampler_batches_persisted_total",
				Help: "Total number of batches committed to sinks.",
			},
		)

		serviceCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sampler_service_calls_total",
				Help: "External service calls, labeled by service and outcome.",
			},
			[]string{"service", "outcome"},
		)

		serviceCallSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sampler_service_call_duration_seconds",
				Help:    "Latency of external service calls.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"service"},
		)

		rotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sampler_credential_rotations_total",
				Help: "Credential rotations, labeled by the service that signalled quota.",
			},
			[]string{"service"},
		)

		rollbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sampler_checkpoint_rollbacks_total",
				Help: "Cycles restored from their checkpoint after a quota signal.",
			},
		)

		imagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sampler_images_stored_total",
				Help: "Images written to the blob store.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sampler_runs_total",
				Help: "Finished runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sampler_cache_lookups_total",
				Help: "Obstruction cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sampler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"service"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePoints adds n evaluated points with the given outcome.
func ObservePoints(outcome string, n int) {
	if n > 0 {
		pointsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveBatch increments the committed batch counter.
func ObserveBatch() {
	batchesTotal.Inc()
}

// ObserveServiceCall records one external call.
func ObserveServiceCall(service, outcome string, duration time.Duration) {
	serviceCallsTotal.WithLabelValues(service, outcome).Inc()
	serviceCallSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveRotation records a credential rotation triggered by service.
func ObserveRotation(service string) {
	rotationsTotal.WithLabelValues(service).Inc()
}

// ObserveRollback records a checkpoint restore.
func ObserveRollback() {
	rollbacksTotal.Inc()
}

// ObserveImage records a stored image.
func ObserveImage() {
	imagesTotal.Inc()
}

// ObserveRun records a finished run.
func ObserveRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(service string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
