// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchesTotal counts matches created, partitioned by status.
	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confira_matches_total",
		Help: "Total trade-confirmation matches created",
	}, []string{"status"})

	// MatchRunDuration tracks the duration of full matcher runs.
	MatchRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "confira_match_run_duration_seconds",
		Help:    "Duration of a full matcher run over a tenant",
		Buckets: prometheus.DefBuckets,
	})

	// ResolutionsTotal counts resolutions by final state.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confira_resolutions_total",
		Help: "Total trade resolutions by final state",
	}, []string{"state"})

	// ResolutionFailures counts failures by error code.
	ResolutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confira_resolution_failures_total",
		Help: "Resolution failures by error code",
	}, []string{"code"})

	// CollaboratorRetries counts retried population/storage attempts.
	CollaboratorRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confira_collaborator_retries_total",
		Help: "Retried document population or storage attempts",
	})

	// EventClients tracks connected WebSocket event-feed clients.
	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confira_event_clients",
		Help: "Number of connected event-feed clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confira_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "confira_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; routes are low-cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
