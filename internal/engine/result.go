package engine

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// IndexingResult reports the outcome of indexing one document.
type IndexingResult struct {
	// Source is the document identifier that was indexed.
	Source string `json:"source"`
	// ChunksCreated is the number of chunks written to the index.
	ChunksCreated int `json:"chunksCreated"`
	// ProcessingTime is the wall-clock time spent indexing.
	ProcessingTime time.Duration `json:"-"`
	// Success is false when the document was not indexed.
	Success bool `json:"success"`
	// Error describes why indexing failed. Empty on success.
	Error string `json:"error,omitempty"`
}

// MarshalJSON renders ProcessingTime as whole milliseconds.
func (r IndexingResult) MarshalJSON() ([]byte, error) {
	type alias IndexingResult
	return json.Marshal(struct {
		alias
		ProcessingTimeMs int64 `json:"processingTimeMs"`
	}{alias(r), r.ProcessingTime.Milliseconds()})
}

// RagResult is the outcome of a single query.
type RagResult struct {
	// Query is the question as asked.
	Query string `json:"query"`
	// Answer is the generated answer, the no-match message, or a polite
	// failure message.
	Answer string `json:"answer"`
	// RetrievedChunks are the chunks used as context, highest similarity first.
	RetrievedChunks []rag.RetrievalResult `json:"retrievedChunks"`
	// Success is false when any step of the query failed.
	Success bool `json:"success"`
	// Error holds the raw failure for diagnostics. Empty on success.
	Error string `json:"error,omitempty"`
	// ProcessingTime is the wall-clock time of this call, including cache hits.
	ProcessingTime time.Duration `json:"-"`
	// FromCache is true when the result was served from the query cache.
	FromCache bool `json:"fromCache"`
}

// MarshalJSON renders ProcessingTime as whole milliseconds.
func (r RagResult) MarshalJSON() ([]byte, error) {
	type alias RagResult
	return json.Marshal(struct {
		alias
		ProcessingTimeMs int64 `json:"processingTimeMs"`
	}{alias(r), r.ProcessingTime.Milliseconds()})
}

// Clone returns a deep copy of r. Cached results are only ever handed out
// as clones so callers cannot corrupt the cache entry.
func (r *RagResult) Clone() *RagResult {
	if r == nil {
		return nil
	}
	out := *r
	out.RetrievedChunks = make([]rag.RetrievalResult, len(r.RetrievedChunks))
	for i, rr := range r.RetrievedChunks {
		out.RetrievedChunks[i] = rag.RetrievalResult{Chunk: rr.Chunk.Clone(), Similarity: rr.Similarity}
	}
	return &out
}

// Sources returns the distinct sources of the retrieved chunks in rank order.
func (r *RagResult) Sources() []string {
	var out []string
	for _, rr := range r.RetrievedChunks {
		if !slices.Contains(out, rr.Chunk.Source) {
			out = append(out, rr.Chunk.Source)
		}
	}
	return out
}
