// Package engine orchestrates the retrieval pipeline. Indexing runs
// chunk → embed (cached, retried) → store; querying runs
// embed → search → threshold filter → context assembly → generate.
//
// Engine methods never return errors for indexing or querying. Failures are
// reported inside IndexingResult and RagResult so a caller can always show
// something to the user.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/cache"
	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/metrics"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/resilience"
)

const (
	// DefaultSimilarityThreshold is the minimum similarity a chunk needs to be
	// used as context.
	DefaultSimilarityThreshold = 0.7
	// DefaultTopK is the number of candidates searched when the caller passes 0.
	DefaultTopK = 5
	// DefaultEmbeddingConcurrency bounds concurrent embedding calls per document.
	DefaultEmbeddingConcurrency = 4
	// DefaultEmbeddingTTL is how long chunk embeddings stay cached.
	DefaultEmbeddingTTL = time.Hour
	// DefaultQueryTTL is how long answered queries stay cached.
	DefaultQueryTTL = 30 * time.Minute

	// operationGenerate names the generation circuit breaker.
	operationGenerate = "generate"
	// operationEmbed names embedding calls in retry logs and errors.
	operationEmbed = "embed"
)

var (
	// ErrEmptyQuery is reported when a query is blank.
	ErrEmptyQuery = errors.New("engine: query must not be empty")
	// ErrEmptySource is reported when a document has no source name.
	ErrEmptySource = errors.New("engine: source must not be empty")
	// ErrEmptyContent is reported when a document has no content.
	ErrEmptyContent = errors.New("engine: content must not be empty")
)

// Config wires an Engine to its collaborators. Store, Embedder and Generator
// are required; every other field has a working default.
type Config struct {
	// Chunker splits documents. Nil uses chunker defaults.
	Chunker *chunker.Chunker
	// Store holds embedded chunks. Required.
	Store rag.VectorStore
	// Cache holds chunk and query embeddings. Nil creates a private cache
	// with default capacity.
	Cache *cache.Cache
	// QueryCache holds answered queries. It is emptied on every index change
	// so stale answers never occupy space. Nil creates a private cache with
	// the same capacity as Cache.
	QueryCache *cache.Cache
	// Embedder converts text to vectors. Required.
	Embedder rag.Embedder
	// Generator produces answers from prompts. Required.
	Generator rag.Generator
	// Retrier wraps embedding calls. Nil uses the retry defaults.
	Retrier *resilience.Retrier
	// Breakers supplies the generation circuit breaker. Nil uses breaker defaults.
	Breakers *resilience.Breakers
	// Throttle caps embedding calls per second across workers. Nil is unlimited.
	Throttle *resilience.Throttle
	// Metrics records pipeline metrics. Nil disables them.
	Metrics *metrics.Metrics
	// Logger receives pipeline events. Nil uses slog.Default.
	Logger *slog.Logger

	// SimilarityThreshold is the default minimum similarity for context
	// chunks. Zero is a valid threshold; use DefaultSimilarityThreshold for
	// the usual default.
	SimilarityThreshold float64
	// DefaultTopK applies when Query is called with topK <= 0.
	DefaultTopK int
	// EmbeddingConcurrency bounds concurrent embedding calls per document.
	EmbeddingConcurrency int
	// EmbeddingTTL is the cache lifetime of chunk embeddings.
	EmbeddingTTL time.Duration
	// QueryTTL is the cache lifetime of successful query results.
	QueryTTL time.Duration
	// MaxContextTokens caps the estimated size of the prompt context.
	// Zero means budget.DefaultMaxContextTokens; negative disables the cap.
	MaxContextTokens int
}

// Engine is the retrieval orchestrator. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	cfg       Config
	chunker   *chunker.Chunker
	embedder  rag.Embedder
	retriever *rag.DefaultRetriever
	breaker   *resilience.CircuitBreaker
	logger    *slog.Logger

	// generation changes on every index mutation. It is part of the query
	// cache key so answers computed against an older index are never served.
	generation atomic.Uint64
}

// New validates cfg, applies defaults and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("engine: embedder must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("engine: generator must not be nil")
	}
	if cfg.SimilarityThreshold < -1 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("engine: similarity threshold %v outside [-1, 1]", cfg.SimilarityThreshold)
	}

	if cfg.Chunker == nil {
		c, err := chunker.New(chunker.DefaultChunkSize, chunker.DefaultChunkOverlap)
		if err != nil {
			return nil, fmt.Errorf("engine: default chunker: %w", err)
		}
		cfg.Chunker = c
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New(cache.DefaultMaxSize)
	}
	if cfg.QueryCache == nil {
		cfg.QueryCache = cache.New(cfg.Cache.Stats().MaxSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retrier == nil {
		cfg.Retrier = &resilience.Retrier{Logger: cfg.Logger}
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewBreakers(resilience.BreakerSettings{Logger: cfg.Logger})
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.EmbeddingConcurrency <= 0 {
		cfg.EmbeddingConcurrency = DefaultEmbeddingConcurrency
	}
	if cfg.EmbeddingTTL <= 0 {
		cfg.EmbeddingTTL = DefaultEmbeddingTTL
	}
	if cfg.QueryTTL <= 0 {
		cfg.QueryTTL = DefaultQueryTTL
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}

	emb := &resilientEmbedder{
		next:     cfg.Embedder,
		retrier:  cfg.Retrier,
		throttle: cfg.Throttle,
	}
	e := &Engine{
		cfg:      cfg,
		chunker:  cfg.Chunker,
		embedder: emb,
		breaker:  cfg.Breakers.Get(operationGenerate),
		logger:   cfg.Logger,
	}
	// Query embeddings share the embedding cache with indexed chunks.
	retriever, err := rag.NewRetriever(emb, cfg.Store, cfg.DefaultTopK,
		rag.WithQueryEmbedFunc(e.embedContent))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.retriever = retriever
	return e, nil
}

// RemoveDocument deletes every chunk of source and reports whether any existed.
func (e *Engine) RemoveDocument(ctx context.Context, source string) (bool, error) {
	removed, err := e.cfg.Store.RemoveBySource(ctx, source)
	if err != nil {
		return false, fmt.Errorf("engine: remove %q: %w", source, err)
	}
	if removed {
		e.indexChanged()
		e.logger.Info("document removed", slog.String("source", source))
	}
	return removed, nil
}

// indexChanged retires every cached answer after an index mutation.
func (e *Engine) indexChanged() {
	e.generation.Add(1)
	e.cfg.QueryCache.Clear()
}

// ClearIndex removes every document from the index.
func (e *Engine) ClearIndex(ctx context.Context) error {
	if err := e.cfg.Store.Clear(ctx); err != nil {
		return fmt.Errorf("engine: clear index: %w", err)
	}
	e.indexChanged()
	e.logger.Info("index cleared")
	return nil
}

// Stats combines index and cache statistics.
type Stats struct {
	// Index describes the vector index contents.
	Index rag.IndexStats `json:"index"`
	// Cache describes the embedding cache.
	Cache cache.Stats `json:"cache"`
	// QueryCache describes the answer cache.
	QueryCache cache.Stats `json:"queryCache"`
	// Breakers maps each circuit breaker to its state name.
	Breakers map[string]string `json:"breakers"`
}

// GetStats returns a snapshot of index, cache and breaker state.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	idx, err := e.cfg.Store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("engine: index stats: %w", err)
	}
	states := e.cfg.Breakers.States()
	breakers := make(map[string]string, len(states))
	for name, st := range states {
		breakers[name] = st.String()
	}
	return Stats{
		Index:      idx,
		Cache:      e.cfg.Cache.Stats(),
		QueryCache: e.cfg.QueryCache.Stats(),
		Breakers:   breakers,
	}, nil
}

// ListSources returns the indexed sources, sorted.
func (e *Engine) ListSources(ctx context.Context) ([]string, error) {
	sources, err := e.cfg.Store.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: list sources: %w", err)
	}
	return sources, nil
}

// BreakerState reports the state of the generation circuit breaker.
func (e *Engine) BreakerState() resilience.State {
	return e.breaker.State()
}

// Ping checks that the embedding backend answers by embedding a short probe
// text through the normal retry path.
func (e *Engine) Ping(ctx context.Context) error {
	vecs, err := e.embedder.Embed(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("engine: embedder probe: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("engine: embedder probe returned no vector")
	}
	return nil
}
