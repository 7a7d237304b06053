package rag

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// chunkOverheadBytes approximates the fixed per-chunk cost of the struct,
// map entries and slice headers when estimating memory use.
const chunkOverheadBytes = 128

// storedChunk is a chunk together with the sequence number it was first
// inserted under. seq breaks similarity ties in insertion order.
type storedChunk struct {
	chunk Chunk
	seq   uint64
}

// MemoryStore is an in-process VectorStore that scans every stored chunk on
// each search. It is meant for at most low tens of thousands of chunks.
//
// The first inserted chunk fixes the index dimension; chunks of any other
// length are rejected at insert time so Search never meets a mismatch. The
// dimension resets once the store is empty again.
type MemoryStore struct {
	// mu guards every field below. Searches take the read lock.
	mu sync.RWMutex
	// chunks maps chunk ID to the stored chunk.
	chunks map[string]*storedChunk
	// bySource groups chunk IDs by source for delete-by-source and stats.
	bySource map[string]map[string]struct{}
	// dimension is the enforced embedding length, 0 when empty.
	dimension int
	// nextSeq is the next insertion sequence number.
	nextSeq uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:   make(map[string]*storedChunk),
		bySource: make(map[string]map[string]struct{}),
	}
}

var _ VectorStore = (*MemoryStore)(nil)

// Insert stores or replaces a single chunk.
func (s *MemoryStore) Insert(ctx context.Context, chunk Chunk) error {
	return s.InsertMany(ctx, []Chunk{chunk})
}

// InsertMany stores or replaces a batch of chunks. Every chunk is validated
// before the store is touched, so a rejected batch leaves it unchanged.
func (s *MemoryStore) InsertMany(_ context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := validateChunks(chunks, s.dimension)
	if err != nil {
		return err
	}
	s.dimension = dim
	s.insertLocked(chunks)
	return nil
}

// ReplaceSource swaps every chunk of source for chunks in one step. Searches
// see either the old set or the new one, never both or neither. When the
// batch is rejected the old chunks stay in place.
func (s *MemoryStore) ReplaceSource(_ context.Context, source string, chunks []Chunk) error {
	for _, c := range chunks {
		if c.Source != source {
			return fmt.Errorf("rag: chunk %s belongs to %q, not %q", c.ID, c.Source, source)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The dimension is only free when source holds every stored chunk.
	dim := s.dimension
	if len(s.bySource[source]) == len(s.chunks) {
		dim = 0
	}
	if len(chunks) > 0 {
		var err error
		if dim, err = validateChunks(chunks, dim); err != nil {
			return err
		}
	}

	for id := range s.bySource[source] {
		delete(s.chunks, id)
	}
	delete(s.bySource, source)
	s.dimension = dim
	s.insertLocked(chunks)
	s.resetIfEmpty()
	return nil
}

// validateChunks checks ids and embedding lengths against dim (0 meaning
// unset) and returns the dimension the batch fixes.
func validateChunks(chunks []Chunk, dim int) (int, error) {
	for _, c := range chunks {
		if c.ID == "" {
			return 0, fmt.Errorf("rag: chunk %d of %q has no id", c.Index, c.Source)
		}
		if len(c.Embedding) == 0 {
			return 0, fmt.Errorf("rag: chunk %s: %w", c.ID, ErrMissingEmbedding)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return 0, fmt.Errorf("rag: chunk %s has %d dimensions, index has %d: %w",
				c.ID, len(c.Embedding), dim, ErrDimensionMismatch)
		}
	}
	return dim, nil
}

// insertLocked stores already validated chunks. Caller holds mu.
func (s *MemoryStore) insertLocked(chunks []Chunk) {
	for _, c := range chunks {
		stored := c.Clone()
		if prev, ok := s.chunks[c.ID]; ok {
			// Upsert keeps the original position for tie-breaking.
			if prev.chunk.Source != c.Source {
				s.unlinkSource(prev.chunk.Source, c.ID)
			}
			prev.chunk = stored
		} else {
			s.chunks[c.ID] = &storedChunk{chunk: stored, seq: s.nextSeq}
			s.nextSeq++
		}
		ids, ok := s.bySource[c.Source]
		if !ok {
			ids = make(map[string]struct{})
			s.bySource[c.Source] = ids
		}
		ids[c.ID] = struct{}{}
	}
}

// Search computes the cosine similarity between queryEmbedding and every
// stored chunk and returns the topK best, highest first. Ties keep insertion
// order. A query whose length differs from the index dimension is rejected.
func (s *MemoryStore) Search(_ context.Context, queryEmbedding []float32, topK int) ([]RetrievalResult, error) {
	if topK <= 0 {
		return []RetrievalResult{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 {
		return []RetrievalResult{}, nil
	}
	if len(queryEmbedding) != s.dimension {
		return nil, fmt.Errorf("rag: query has %d dimensions, index has %d: %w",
			len(queryEmbedding), s.dimension, ErrDimensionMismatch)
	}

	type scored struct {
		sc  *storedChunk
		sim float64
	}
	candidates := make([]scored, 0, len(s.chunks))
	for _, sc := range s.chunks {
		candidates = append(candidates, scored{sc: sc, sim: CosineSimilarity(queryEmbedding, sc.chunk.Embedding)})
	}

	slices.SortFunc(candidates, func(a, b scored) int {
		if c := cmp.Compare(b.sim, a.sim); c != 0 {
			return c
		}
		return cmp.Compare(a.sc.seq, b.sc.seq)
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	results := make([]RetrievalResult, topK)
	for i := range topK {
		results[i] = RetrievalResult{
			Chunk:      candidates[i].sc.chunk.Clone(),
			Similarity: candidates[i].sim,
		}
	}
	return results, nil
}

// RemoveByID deletes the chunk with the given id.
func (s *MemoryStore) RemoveByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.chunks[id]
	if !ok {
		return false, nil
	}
	delete(s.chunks, id)
	s.unlinkSource(sc.chunk.Source, id)
	s.resetIfEmpty()
	return true, nil
}

// RemoveBySource deletes every chunk belonging to source.
func (s *MemoryStore) RemoveBySource(_ context.Context, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.bySource[source]
	if !ok || len(ids) == 0 {
		return false, nil
	}
	for id := range ids {
		delete(s.chunks, id)
	}
	delete(s.bySource, source)
	s.resetIfEmpty()
	return true, nil
}

// Clear empties the store and releases the enforced dimension.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = make(map[string]*storedChunk)
	s.bySource = make(map[string]map[string]struct{})
	s.dimension = 0
	return nil
}

// Stats reports chunk and source counts and a rough memory estimate.
func (s *MemoryStore) Stats(_ context.Context) (IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := IndexStats{
		TotalChunks:   len(s.chunks),
		UniqueSources: len(s.bySource),
		PerSource:     make(map[string]int, len(s.bySource)),
		Dimension:     s.dimension,
	}
	for src, ids := range s.bySource {
		stats.PerSource[src] = len(ids)
	}
	for _, sc := range s.chunks {
		stats.ApproxMemoryBytes += approxChunkBytes(&sc.chunk)
	}
	return stats, nil
}

// Sources lists the distinct sources in the store, sorted.
func (s *MemoryStore) Sources(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.bySource))
	for src := range s.bySource {
		out = append(out, src)
	}
	slices.Sort(out)
	return out, nil
}

// unlinkSource removes id from the source grouping. Caller holds mu.
func (s *MemoryStore) unlinkSource(source, id string) {
	ids, ok := s.bySource[source]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.bySource, source)
	}
}

// resetIfEmpty releases the dimension once the last chunk is gone. Caller holds mu.
func (s *MemoryStore) resetIfEmpty() {
	if len(s.chunks) == 0 {
		s.dimension = 0
	}
}

// approxChunkBytes estimates the bytes held by one stored chunk.
func approxChunkBytes(c *Chunk) int64 {
	n := int64(chunkOverheadBytes)
	n += int64(len(c.ID) + len(c.Source) + len(c.Content))
	n += int64(len(c.Embedding) * 4)
	for k, v := range c.Metadata.Extra {
		n += int64(len(k) + len(v))
	}
	return n
}

// CosineSimilarity returns dot(a,b) / (|a|·|b|). It returns 0 when either
// vector has zero magnitude, and compares only the common prefix when the
// lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := range n {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
