package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// IndexDocument chunks, embeds and stores content under source.
func (e *Engine) IndexDocument(ctx context.Context, source, content string) *IndexingResult {
	return e.Index(ctx, rag.Document{Source: source, Content: content})
}

// Index chunks, embeds and stores doc. doc.Metadata is copied onto every
// chunk. Re-indexing a source replaces its previous chunks once the new ones
// are fully embedded. If any chunk fails to embed nothing is stored.
func (e *Engine) Index(ctx context.Context, doc rag.Document) (res *IndexingResult) {
	start := time.Now()
	res = &IndexingResult{Source: doc.Source}

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("engine: panic while indexing: %v", r)
		}
		res.ProcessingTime = time.Since(start)
		e.cfg.Metrics.ObserveIndex(res.Success, res.ChunksCreated, res.ProcessingTime)
		if res.Success {
			e.logger.Info("document indexed",
				append(logAttrs(doc.Source, res.ChunksCreated), slog.Duration("elapsed", res.ProcessingTime))...)
		} else {
			e.logger.Error("document indexing failed",
				slog.String("source", doc.Source),
				slog.String("error", res.Error),
				slog.Duration("elapsed", res.ProcessingTime),
			)
		}
	}()

	if err := e.index(ctx, doc, res); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

func (e *Engine) index(ctx context.Context, doc rag.Document, res *IndexingResult) error {
	if strings.TrimSpace(doc.Source) == "" {
		return ErrEmptySource
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("%s: %w", doc.Source, ErrEmptyContent)
	}

	chunks := e.chunker.Chunk(doc.Source, doc.Content)
	if len(chunks) == 0 {
		return fmt.Errorf("engine: %s: chunker produced no chunks from non-empty content", doc.Source)
	}
	for i := range chunks {
		if len(doc.Metadata) > 0 {
			chunks[i].Metadata.Extra = maps.Clone(doc.Metadata)
		}
	}

	if err := e.embedChunks(ctx, chunks); err != nil {
		return fmt.Errorf("engine: %s: embedding failed: %w", doc.Source, err)
	}

	if err := e.cfg.Store.ReplaceSource(ctx, doc.Source, chunks); err != nil {
		return fmt.Errorf("engine: %s: store chunks: %w", doc.Source, err)
	}
	e.indexChanged()

	res.ChunksCreated = len(chunks)
	return nil
}
