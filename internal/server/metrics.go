package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler is the "handler" label used to partition metrics by the logical
// endpoint name rather than the raw URL path, which carries document sources.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// activeQueries is the number of query requests (single and batch)
	// currently being answered.
	activeQueries prometheus.Gauge

	// batchItemsTotal counts batch items by kind and outcome: "ok", "failed"
	// or "skipped".
	batchItemsTotal *prometheus.CounterVec

	// rateLimitedTotal counts requests rejected with 429, by handler.
	rateLimitedTotal *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg. promauto.With(reg)
// registers into the provided registry rather than the global default, which
// keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"method", labelHandler}),

		activeQueries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "active_queries",
			Help:      "Number of query requests currently in flight.",
		}),

		batchItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Total number of batch items processed over HTTP, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limit, partitioned by handler.",
		}, []string{labelHandler}),
	}
}

// rateLimited records one rejected request for handler.
func (m *serverMetrics) rateLimited(handler string) {
	m.rateLimitedTotal.WithLabelValues(handler).Inc()
}

// instrument wraps next so every request is counted and timed under the
// given handler name.
func (m *serverMetrics) instrument(name string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next(rw, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}

// observeBatch records the per-item outcomes of a finished batch.
func (m *serverMetrics) observeBatch(kind string, succeeded, failed, skipped int) {
	m.batchItemsTotal.WithLabelValues(kind, "ok").Add(float64(succeeded))
	m.batchItemsTotal.WithLabelValues(kind, "failed").Add(float64(failed))
	m.batchItemsTotal.WithLabelValues(kind, "skipped").Add(float64(skipped))
}
