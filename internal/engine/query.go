package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/cache"
	"github.com/54b3r/docqa-go/internal/metrics"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/resilience"
)

const (
	// NoMatchAnswer is returned when no chunk clears the similarity threshold.
	NoMatchAnswer = "I couldn't find any relevant information in the indexed documents to answer your question."

	failureAnswer     = "Sorry, something went wrong while answering your question. Please try again."
	unavailableAnswer = "The answering service is temporarily unavailable. Please try again in a little while."
)

// queryOptions holds per-call overrides.
type queryOptions struct {
	threshold float64
}

// QueryOption overrides an engine default for a single Query call.
type QueryOption func(*queryOptions)

// WithThreshold overrides the similarity threshold for one query.
func WithThreshold(threshold float64) QueryOption {
	return func(o *queryOptions) {
		o.threshold = threshold
	}
}

// Query answers query from the indexed documents using up to topK candidate
// chunks. topK <= 0 selects the engine default. Query never fails outright:
// errors are reported through RagResult.Success and RagResult.Error.
func (e *Engine) Query(ctx context.Context, query string, topK int, opts ...QueryOption) (res *RagResult) {
	start := time.Now()
	outcome := metrics.OutcomeOK

	o := queryOptions{threshold: e.cfg.SimilarityThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}

	defer func() {
		if r := recover(); r != nil {
			res = failedResult(query, fmt.Errorf("engine: panic while answering: %v", r))
		}
		if !res.Success {
			outcome = metrics.OutcomeError
		}
		res.ProcessingTime = time.Since(start)
		e.cfg.Metrics.ObserveQuery(outcome, res.ProcessingTime)
		e.logger.Info("query answered",
			slog.String("outcome", outcome),
			slog.Int("top_k", topK),
			slog.Float64("threshold", o.threshold),
			slog.Int("chunks", len(res.RetrievedChunks)),
			slog.Duration("elapsed", res.ProcessingTime),
		)
	}()

	if strings.TrimSpace(query) == "" {
		return failedResult(query, ErrEmptyQuery)
	}

	key := cache.GenerateKey("query", e.generation.Load(), query, topK, o.threshold)
	if v, ok := e.cfg.QueryCache.Get(key); ok {
		if cached, ok := v.(*RagResult); ok {
			outcome = metrics.OutcomeCacheHit
			hit := cached.Clone()
			hit.FromCache = true
			return hit
		}
	}

	relevant, err := e.retriever.RetrieveAbove(ctx, query, topK, o.threshold)
	if err != nil {
		return failedResult(query, err)
	}
	if len(relevant) == 0 {
		outcome = metrics.OutcomeNoMatch
		return &RagResult{
			Query:           query,
			Answer:          NoMatchAnswer,
			RetrievedChunks: []rag.RetrievalResult{},
			Success:         true,
		}
	}

	prompt, used := e.buildPrompt(query, relevant)
	answer, err := resilience.Call(ctx, e.breaker, func(ctx context.Context) (string, error) {
		return e.cfg.Generator.Generate(ctx, prompt)
	})
	if err != nil {
		return failedResult(query, fmt.Errorf("engine: generate: %w", err))
	}

	res = &RagResult{
		Query:           query,
		Answer:          strings.TrimSpace(answer),
		RetrievedChunks: used,
		Success:         true,
	}
	if !e.cfg.QueryCache.Set(key, res.Clone(), e.cfg.QueryTTL) {
		e.logger.Debug("query cache full, result not stored")
	}
	return res
}

// failedResult builds the polite failure result for err.
func failedResult(query string, err error) *RagResult {
	answer := failureAnswer
	if errors.Is(err, resilience.ErrServiceUnavailable) {
		answer = unavailableAnswer
	}
	return &RagResult{
		Query:           query,
		Answer:          answer,
		RetrievedChunks: []rag.RetrievalResult{},
		Success:         false,
		Error:           err.Error(),
	}
}
