package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	unmatched   = "unmatched"
	metricsPath = "/metrics"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, excluding event streams.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	eventStreamsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_event_streams_open",
		Help: "Number of connected experiment event streams.",
	})

	experimentRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_experiment_requests_total",
			Help: "Experiment creation requests by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(eventStreamsOpen)
	prometheus.MustRegister(experimentRequestsTotal)
}

// metricsMiddleware records request count and duration. Scrapes of the
// metrics endpoint are not counted, and SSE streams are counted but not
// timed since their duration is the client's connection lifetime.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == metricsPath {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if ww.Header().Get("Content-Type") != "text/event-stream" {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern returns the matched chi route pattern so that experiment
// names and job ids do not become label values.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// experimentOutcome labels a creation request by its HTTP status.
func experimentOutcome(status int) string {
	switch {
	case status == http.StatusCreated:
		return "created"
	case status == http.StatusBadGateway:
		return "partial"
	case status >= 500:
		return "error"
	default:
		return "rejected"
	}
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
