package engine

import (
	"fmt"
	"strings"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/rag"
)

const promptTemplate = `You are a helpful assistant that answers questions using only the provided context.

Instructions:
- Answer the question using only the information in the context below.
- If the context does not contain the information needed, say that you don't have enough information to answer.
- Mention the source of the information when it helps the reader.
- Be concise and accurate.

Context:
%s

Question: %s

Answer:`

// buildPrompt assembles the generation prompt from relevant chunks in
// similarity order. Chunks that would push the context past the token budget
// are dropped from the tail; the most similar chunk is always kept. It
// returns the prompt and the chunks actually used.
func (e *Engine) buildPrompt(query string, relevant []rag.RetrievalResult) (string, []rag.RetrievalResult) {
	blocks := make([]string, len(relevant))
	for i, r := range relevant {
		blocks[i] = contextBlock(r)
	}

	limit := e.cfg.MaxContextTokens
	if limit < 0 {
		limit = 0
	}
	n := budget.FitBlocks(promptTemplate+query, blocks, limit)
	if n < len(blocks) {
		e.logger.Debug("context trimmed to token budget",
			"kept", n, "dropped", len(blocks)-n, "max_tokens", limit)
	}

	return fmt.Sprintf(promptTemplate, strings.Join(blocks[:n], "\n\n"), query), relevant[:n]
}

// contextBlock renders one chunk with its source and similarity tag.
func contextBlock(r rag.RetrievalResult) string {
	return fmt.Sprintf("[Source: %s | Similarity: %.3f]\n%s", r.Chunk.Source, r.Similarity, r.Chunk.Content)
}
