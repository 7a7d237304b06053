// Package rag defines the data model and collaborator interfaces for the
// retrieval subsystem: chunks, retrieval results, vector storage, embedding,
// and text generation. Concrete implementations (the in-memory index, HTTP
// embedders, eino chat models) satisfy these interfaces so the engine never
// depends on a specific backend.
package rag

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the
	// dimension fixed by the first chunk stored in the index.
	ErrDimensionMismatch = errors.New("rag: embedding dimension mismatch")

	// ErrMissingEmbedding is returned when a chunk without an embedding is
	// inserted into a vector store.
	ErrMissingEmbedding = errors.New("rag: chunk has no embedding")
)

// Metadata holds the known per-chunk attributes plus an open string bag for
// loader-supplied extras (format, origin, host, ...).
type Metadata struct {
	// Length is the character length of the chunk content.
	Length int `json:"length"`

	// CreatedAt is when the chunk was produced by the chunker.
	CreatedAt time.Time `json:"createdAt"`

	// Extra holds arbitrary key-value pairs attached at ingestion time.
	Extra map[string]string `json:"extra,omitempty"`
}

// Chunk is a bounded contiguous segment of a source document and the unit of
// retrieval.
type Chunk struct {
	// ID is the opaque unique identifier assigned at creation.
	ID string `json:"id"`

	// Source is the document identifier the chunk was cut from.
	Source string `json:"source"`

	// Content is the chunk text. Never blank.
	Content string `json:"content"`

	// Index is the zero-based position of the chunk within its source.
	Index int `json:"index"`

	// Embedding is the dense vector for Content. Nil until computed.
	Embedding []float32 `json:"-"`

	// Metadata carries length, creation time and extras.
	Metadata Metadata `json:"metadata"`
}

// Clone returns a deep copy of c so callers may mutate the result freely.
func (c Chunk) Clone() Chunk {
	out := c
	out.Embedding = slices.Clone(c.Embedding)
	out.Metadata.Extra = maps.Clone(c.Metadata.Extra)
	return out
}

// RetrievalResult is a read-only projection of a stored chunk together with
// its similarity to the query that produced it.
type RetrievalResult struct {
	// Chunk is a copy of the stored chunk.
	Chunk Chunk `json:"chunk"`

	// Similarity is the cosine similarity to the query vector, in [-1, 1].
	Similarity float64 `json:"similarity"`
}

// Document is a raw source document before chunking.
type Document struct {
	// Source is the document identifier (file path, URL, or caller-chosen name).
	Source string

	// Content is the raw document text.
	Content string

	// Metadata is copied into the Extra bag of every chunk produced from the document.
	Metadata map[string]string
}

// IndexStats summarises the contents of a vector store.
type IndexStats struct {
	// TotalChunks is the number of stored chunks.
	TotalChunks int `json:"totalChunks"`

	// UniqueSources is the number of distinct sources with at least one chunk.
	UniqueSources int `json:"uniqueSources"`

	// PerSource maps each source to its chunk count.
	PerSource map[string]int `json:"perSource"`

	// ApproxMemoryBytes is a rough estimate of the memory held by stored chunks.
	ApproxMemoryBytes int64 `json:"approxMemoryBytes"`

	// Dimension is the embedding length enforced by the store (0 when empty).
	Dimension int `json:"dimension"`
}

// VectorStore is the interface for storing and searching embedded chunks.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Insert stores or replaces a single chunk keyed by its ID.
	Insert(ctx context.Context, chunk Chunk) error

	// InsertMany stores or replaces a batch of chunks. The batch is validated
	// as a whole before any chunk is stored.
	InsertMany(ctx context.Context, chunks []Chunk) error

	// Search returns the topK stored chunks most similar to queryEmbedding,
	// highest similarity first.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]RetrievalResult, error)

	// RemoveByID deletes one chunk. Reports whether it existed.
	RemoveByID(ctx context.Context, id string) (bool, error)

	// RemoveBySource deletes every chunk of source. Reports whether any existed.
	RemoveBySource(ctx context.Context, source string) (bool, error)

	// ReplaceSource atomically replaces every chunk of source with chunks.
	// A rejected batch leaves the previous chunks untouched.
	ReplaceSource(ctx context.Context, source string, chunks []Chunk) error

	// Clear removes every chunk.
	Clear(ctx context.Context) error

	// Stats reports counts and an approximate memory footprint.
	Stats(ctx context.Context) (IndexStats, error)

	// Sources lists the distinct sources currently stored, sorted.
	Sources(ctx context.Context) ([]string, error)
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces answer text from a fully assembled prompt.
// Implementations must be safe to call from multiple goroutines.
type Generator interface {
	// Generate returns the model's completion for prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever is the high-level interface used to fetch candidate chunks for a
// question. It combines embedding and vector search.
type Retriever interface {
	// Retrieve returns the top-k most similar chunks for the given query.
	Retrieve(ctx context.Context, query string, topK int) ([]RetrievalResult, error)
}
