package rag

import (
	"context"
	"fmt"
	"strings"
)

var _ Retriever = (*DefaultRetriever)(nil)

// QueryEmbedFunc turns a single query into a vector.
type QueryEmbedFunc func(ctx context.Context, text string) ([]float32, error)

// DefaultRetriever answers "which chunks are closest to this question" by
// embedding the question and searching a VectorStore.
type DefaultRetriever struct {
	embed       QueryEmbedFunc
	store       VectorStore
	defaultTopK int
}

// RetrieverOption customises a DefaultRetriever.
type RetrieverOption func(*DefaultRetriever)

// WithQueryEmbedFunc routes query embedding through fn instead of calling
// the Embedder directly. The engine uses it to serve repeated questions from
// the embedding cache.
func WithQueryEmbedFunc(fn QueryEmbedFunc) RetrieverOption {
	return func(r *DefaultRetriever) {
		if fn != nil {
			r.embed = fn
		}
	}
}

// NewRetriever builds a DefaultRetriever. A non-positive defaultTopK falls
// back to 5.
func NewRetriever(embedder Embedder, store VectorStore, defaultTopK int, opts ...RetrieverOption) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	r := &DefaultRetriever{
		embed:       embedOne(embedder),
		store:       store,
		defaultTopK: defaultTopK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// embedOne adapts a batch Embedder to a QueryEmbedFunc.
func embedOne(e Embedder) QueryEmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := e.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, nil
		}
		return vecs[0], nil
	}
}

// Retrieve returns up to topK chunks ordered by similarity, without any
// similarity floor. topK <= 0 uses the default.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]RetrievalResult, error) {
	return r.RetrieveAbove(ctx, query, topK, -1)
}

// RetrieveAbove is Retrieve restricted to chunks whose similarity is at least
// minSimilarity. The floor is applied after the top-k cut, so fewer than topK
// results may come back.
func (r *DefaultRetriever) RetrieveAbove(ctx context.Context, query string, topK int, minSimilarity float64) ([]RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("rag: query must not be empty")
	}
	if topK <= 0 {
		topK = r.defaultTopK
	}

	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	results, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	kept := results[:0]
	for _, res := range results {
		if res.Similarity >= minSimilarity {
			kept = append(kept, res)
		}
	}
	return kept, nil
}
