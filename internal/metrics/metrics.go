// Package metrics registers the Prometheus collectors for the retrieval
// pipeline: indexing, querying, the embedding cache and circuit breakers.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests and in the CLI.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docqa"

// Query outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeNoMatch  = "no_match"
	OutcomeCacheHit = "cache_hit"
	OutcomeError    = "error"
)

// Metrics holds every collector owned by the retrieval pipeline.
type Metrics struct {
	// documentsIndexed counts IndexDocument calls by outcome: "ok" or "error".
	documentsIndexed *prometheus.CounterVec

	// chunksIndexed counts chunks written to the vector index.
	chunksIndexed prometheus.Counter

	// indexDuration records the wall-clock time of each IndexDocument call.
	indexDuration prometheus.Histogram

	// queries counts Query calls by outcome.
	queries *prometheus.CounterVec

	// queryDuration records the wall-clock time of each Query call.
	queryDuration *prometheus.HistogramVec

	// embeddingCache counts embedding cache lookups by result: "hit" or "miss".
	embeddingCache *prometheus.CounterVec

	// breakerState exposes each circuit breaker's state:
	// 0 closed, 1 open, 2 half-open.
	breakerState *prometheus.GaugeVec
}

// New registers all pipeline metrics against reg. promauto.With(reg) keeps
// tests hermetic when they pass a fresh prometheus.Registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		documentsIndexed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "documents_total",
			Help:      "Total number of documents submitted for indexing, partitioned by outcome.",
		}, []string{"outcome"}),

		chunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks_total",
			Help:      "Total number of chunks written to the vector index.",
		}),

		indexDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of document indexing including embedding.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),

		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of queries answered, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of queries from receipt to answer.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		embeddingCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding_cache",
			Name:      "lookups_total",
			Help:      "Embedding cache lookups, partitioned by result.",
		}, []string{"result"}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 open, 2 half-open.",
		}, []string{"operation"}),
	}
}

// ObserveIndex records one indexing call.
func (m *Metrics) ObserveIndex(ok bool, chunks int, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeError
	}
	m.documentsIndexed.WithLabelValues(outcome).Inc()
	if ok {
		m.chunksIndexed.Add(float64(chunks))
	}
	m.indexDuration.Observe(elapsed.Seconds())
}

// ObserveQuery records one query call under outcome.
func (m *Metrics) ObserveQuery(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// EmbeddingCacheLookup records one embedding cache lookup.
func (m *Metrics) EmbeddingCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.embeddingCache.WithLabelValues("hit").Inc()
		return
	}
	m.embeddingCache.WithLabelValues("miss").Inc()
}

// SetBreakerState publishes the numeric state of the named breaker.
func (m *Metrics) SetBreakerState(operation string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(operation).Set(float64(state))
}
