package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/batch"
	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Batch
	// requests run inside it, so it is generous by default.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxBodyBytes caps request bodies. Defaults to 10 MiB if zero.
	MaxBodyBytes int64
	// BatchMaxParallelism is used when a batch request does not name one.
	BatchMaxParallelism int
	// MetricsRegistry is where server metrics are registered. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Service is the engine surface the handlers drive. *engine.Engine satisfies
// it; tests inject a fake.
type Service interface {
	Index(ctx context.Context, doc rag.Document) *engine.IndexingResult
	Query(ctx context.Context, query string, topK int, opts ...engine.QueryOption) *engine.RagResult
	RemoveDocument(ctx context.Context, source string) (bool, error)
	ClearIndex(ctx context.Context) error
	ListSources(ctx context.Context) ([]string, error)
	GetStats(ctx context.Context) (engine.Stats, error)
}

// BatchRunner is the batch surface. *batch.Runner satisfies it.
type BatchRunner interface {
	IndexDocuments(ctx context.Context, docs []rag.Document, maxParallelism int) (*batch.IndexResult, error)
	QueryMany(ctx context.Context, queries []string, topK, maxParallelism int, opts ...engine.QueryOption) (*batch.QueryResult, error)
}

// Server is the HTTP server that exposes the question-answering engine as a
// JSON API.
type Server struct {
	// svc is the engine that indexes documents and answers queries.
	svc Service
	// runner fans batch requests out over a worker pool.
	runner BatchRunner
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// started is when New returned, reported as uptime by /api/health.
	started time.Time
}

// documentRequest is the JSON body for POST /api/documents.
type documentRequest struct {
	// Source names the document (file path, URL, or any caller-chosen id).
	Source string `json:"source"`
	// Content is the raw document text.
	Content string `json:"content"`
	// Metadata is copied onto every chunk of the document.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the natural language question.
	Query string `json:"query"`
	// TopK is the number of candidate chunks; 0 selects the engine default.
	TopK int `json:"topK"`
	// SimilarityThreshold overrides the engine threshold for this query.
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty"`
}

// batchIndexRequest is the JSON body for POST /api/batch/index.
type batchIndexRequest struct {
	// Documents are indexed concurrently.
	Documents []documentRequest `json:"documents"`
	// MaxParallelism bounds concurrent items; 0 selects the server default.
	MaxParallelism int `json:"maxParallelism"`
}

// batchQueryRequest is the JSON body for POST /api/batch/query.
type batchQueryRequest struct {
	// Queries are answered concurrently.
	Queries []string `json:"queries"`
	// TopK applies to every query; 0 selects the engine default.
	TopK int `json:"topK"`
	// MaxParallelism bounds concurrent items; 0 selects the server default.
	MaxParallelism int `json:"maxParallelism"`
	// SimilarityThreshold overrides the engine threshold for every query.
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty"`
}

// batchResponse is the JSON body returned by the batch endpoints.
type batchResponse[T any] struct {
	Total     int  `json:"total"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Cancelled bool `json:"cancelled"`
	// ElapsedMs is the wall-clock duration of the batch.
	ElapsedMs int64 `json:"elapsedMs"`
	// AverageLatencyMs is set for query batches only.
	AverageLatencyMs *int64 `json:"averageLatencyMs,omitempty"`
	Results          []T    `json:"results"`
}

// sourcesResponse is the JSON body for GET /api/documents.
type sourcesResponse struct {
	// Sources are the indexed document sources, sorted.
	Sources []string `json:"sources"`
	// Count is len(Sources).
	Count int `json:"count"`
}

// removeResponse is the JSON body for DELETE /api/documents/{source}.
type removeResponse struct {
	// Source is the document that was targeted.
	Source string `json:"source"`
	// Removed is false when the source was not indexed.
	Removed bool `json:"removed"`
}

// errorResponse is the JSON body of every 4xx/5xx produced by a handler.
type errorResponse struct {
	// Error is a short human-readable message.
	Error string `json:"error"`
}
