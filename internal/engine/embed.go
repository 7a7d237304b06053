package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docqa-go/internal/cache"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/resilience"
)

// resilientEmbedder decorates an Embedder with the outbound throttle and the
// retry policy. The engine uses it for both chunk and query embeddings.
type resilientEmbedder struct {
	next     rag.Embedder
	retrier  *resilience.Retrier
	throttle *resilience.Throttle
}

// Embed implements rag.Embedder.
func (r *resilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return resilience.Do(ctx, r.retrier, operationEmbed, func(ctx context.Context) ([][]float32, error) {
		if err := r.throttle.Wait(ctx); err != nil {
			return nil, err
		}
		vecs, err := r.next.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	})
}

// embedChunks fills in the embedding of every chunk, consulting the shared
// cache by chunk content first. At most EmbeddingConcurrency embedding calls
// run at once. Every chunk is attempted; all failures are joined into the
// returned error.
func (e *Engine) embedChunks(ctx context.Context, chunks []rag.Chunk) error {
	errs := make([]error, len(chunks))

	var g errgroup.Group
	g.SetLimit(e.cfg.EmbeddingConcurrency)
	for i := range chunks {
		g.Go(func() error {
			vec, err := e.embedContent(ctx, chunks[i].Content)
			if err != nil {
				errs[i] = fmt.Errorf("chunk %d: %w", chunks[i].Index, err)
				return nil
			}
			chunks[i].Embedding = vec
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// embedContent returns the embedding for text, from the cache when present.
// Identical text in different documents shares one cache entry.
func (e *Engine) embedContent(ctx context.Context, text string) ([]float32, error) {
	key := cache.GenerateKey("embedding", text)
	if v, ok := e.cfg.Cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			e.cfg.Metrics.EmbeddingCacheLookup(true)
			return slices.Clone(vec), nil
		}
	}
	e.cfg.Metrics.EmbeddingCacheLookup(false)

	vecs, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned an empty vector")
	}
	vec := vecs[0]
	if !e.cfg.Cache.Set(key, slices.Clone(vec), e.cfg.EmbeddingTTL) {
		e.logger.Debug("embedding cache full, entry not stored")
	}
	return vec, nil
}

// logAttrs returns the standard attributes for a document-level log line.
func logAttrs(source string, chunks int) []any {
	return []any{slog.String("source", source), slog.Int("chunks", chunks)}
}
