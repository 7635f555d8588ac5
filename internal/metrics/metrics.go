// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

var (
	ingestCandidatesTotal        *prometheus.CounterVec
	ingestChangesTotal           *prometheus.CounterVec
	ingestActiveTasks            prometheus.Gauge
	remoteRequestsTotal          *prometheus.CounterVec
	remoteRequestDurationSeconds *prometheus.HistogramVec
	credentialRefreshTotal       *prometheus.CounterVec
	rateLimitDelaySeconds        *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_candidates_total",
				Help: "Candidates processed by the scheduler, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		ingestChangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_changes_total",
				Help: "Rows written by the change-aware store, labeled by projection.",
			},
			[]string{"kind"},
		)

		ingestActiveTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_tasks",
				Help: "Number of candidate tasks currently in flight.",
			},
		)

		remoteRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_remote_requests_total",
				Help: "Remote API calls, labeled by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		)

		remoteRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_remote_request_duration_seconds",
				Help:    "Latency of remote API calls, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		)

		credentialRefreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_credential_refresh_total",
				Help: "Credential exchange attempts, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delay_seconds",
				Help:    "Histogram of outbound pacing waits, labeled by endpoint.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"endpoint"},
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

// ResultLabel maps an error returned by the remote client onto a bounded label set.
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var remoteErr *catalog.RemoteError
	var decodeErr *catalog.DecodeError
	switch {
	case errors.Is(err, catalog.ErrCredentialsUnavailable):
		return "credentials"
	case errors.Is(err, catalog.ErrRatingUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &remoteErr):
		if remoteErr.Empty() {
			return "empty"
		}
		return strconv.Itoa(remoteErr.Status/100) + "xx"
	default:
		return "transport"
	}
}

// ObserveCandidate increments the per-outcome candidate counter.
func ObserveCandidate(outcome string) {
	Init()
	ingestCandidatesTotal.WithLabelValues(outcome).Inc()
}

// ObserveChanges records which projections an ingest wrote.
func ObserveChanges(info, metric, rating bool) {
	Init()
	if info {
		ingestChangesTotal.WithLabelValues("info").Inc()
	}
	if metric {
		ingestChangesTotal.WithLabelValues("metric").Inc()
	}
	if rating {
		ingestChangesTotal.WithLabelValues("rating").Inc()
	}
}

// IncActiveTasks increments the in-flight task gauge.
func IncActiveTasks() {
	Init()
	ingestActiveTasks.Inc()
}

// DecActiveTasks decrements the in-flight task gauge.
func DecActiveTasks() {
	Init()
	ingestActiveTasks.Dec()
}

// ObserveRemoteRequest records one remote call.
func ObserveRemoteRequest(endpoint string, err error, duration time.Duration) {
	Init()
	remoteRequestsTotal.WithLabelValues(endpoint, ResultLabel(err)).Inc()
	remoteRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveCredentialRefresh records one token exchange attempt.
func ObserveCredentialRefresh(err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	credentialRefreshTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(endpoint string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
