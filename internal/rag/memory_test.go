package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
)

// newChunk builds a chunk with the given id, source and embedding.
func newChunk(id, source string, emb ...float32) Chunk {
	return Chunk{ID: id, Source: source, Content: "content of " + id, Embedding: emb}
}

func Test_CosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector left", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero vector right", []float32{3, 4}, []float32{0, 0}, 0},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"empty", nil, nil, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func Test_MemoryStore_SearchOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	// Query is [1,0]; each embedding is a unit vector with the given cosine.
	unit := func(cos float64) []float32 {
		return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
	}
	chunks := []Chunk{
		newChunk("a", "doc", unit(0.9)...),
		newChunk("b", "doc", unit(0.5)...),
		newChunk("c", "doc", unit(0.95)...),
	}
	if err := s.InsertMany(ctx, chunks); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	if results[0].Chunk.ID != "c" || results[1].Chunk.ID != "a" {
		t.Errorf("want order [c a], got [%s %s]", results[0].Chunk.ID, results[1].Chunk.ID)
	}
	if math.Abs(results[0].Similarity-0.95) > 1e-6 {
		t.Errorf("want similarity 0.95, got %v", results[0].Similarity)
	}
}

func Test_MemoryStore_TiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	for _, id := range []string{"first", "second", "third"} {
		if err := s.Insert(ctx, newChunk(id, "doc", 1, 1)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	// Upserting an existing id keeps its original position.
	if err := s.Insert(ctx, newChunk("first", "doc", 2, 2)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 1}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if results[i].Chunk.ID != id {
			t.Errorf("result[%d]: want %s, got %s", i, id, results[i].Chunk.ID)
		}
	}
}

func Test_MemoryStore_TopKLargerThanIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Insert(ctx, newChunk("only", "doc", 1, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	results, err := s.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("want 1 result, got %d", len(results))
	}

	empty, err := NewMemoryStore().Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("search empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("want 0 results from empty store, got %d", len(empty))
	}
}

func Test_MemoryStore_RejectsDimensionMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Insert(ctx, newChunk("a", "doc", 1, 0, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := s.InsertMany(ctx, []Chunk{
		newChunk("b", "doc", 1, 0, 0),
		newChunk("c", "doc", 1, 0),
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}

	// The rejected batch must not be partially applied.
	stats, _ := s.Stats(ctx)
	if stats.TotalChunks != 1 {
		t.Errorf("want 1 chunk after rejected batch, got %d", stats.TotalChunks)
	}

	if _, err := s.Search(ctx, []float32{1, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("search with wrong dimension: want ErrDimensionMismatch, got %v", err)
	}

	if err := s.Insert(ctx, Chunk{ID: "d", Source: "doc", Content: "x"}); !errors.Is(err, ErrMissingEmbedding) {
		t.Errorf("want ErrMissingEmbedding, got %v", err)
	}
}

func Test_MemoryStore_DimensionResetsWhenEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Insert(ctx, newChunk("a", "doc", 1, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if removed, _ := s.RemoveByID(ctx, "a"); !removed {
		t.Fatal("want removed=true")
	}
	if err := s.Insert(ctx, newChunk("b", "doc", 1, 0, 0)); err != nil {
		t.Errorf("insert with new dimension after emptying: %v", err)
	}
}

func Test_MemoryStore_RemoveBySource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.InsertMany(ctx, []Chunk{
		newChunk("a1", "a.txt", 1, 0),
		newChunk("a2", "a.txt", 0, 1),
		newChunk("b1", "b.txt", 1, 1),
	})

	removed, err := s.RemoveBySource(ctx, "a.txt")
	if err != nil || !removed {
		t.Fatalf("RemoveBySource: removed=%v err=%v", removed, err)
	}
	removed, _ = s.RemoveBySource(ctx, "a.txt")
	if removed {
		t.Error("second RemoveBySource should report false")
	}

	results, _ := s.Search(ctx, []float32{1, 0}, 10)
	for _, r := range results {
		if r.Chunk.Source == "a.txt" {
			t.Errorf("removed chunk %s still searchable", r.Chunk.ID)
		}
	}

	sources, _ := s.Sources(ctx)
	if len(sources) != 1 || sources[0] != "b.txt" {
		t.Errorf("want sources [b.txt], got %v", sources)
	}
}

func Test_MemoryStore_ReplaceSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.InsertMany(ctx, []Chunk{
		newChunk("a1", "a.txt", 1, 0),
		newChunk("a2", "a.txt", 0, 1),
		newChunk("b1", "b.txt", 1, 1),
	})

	if err := s.ReplaceSource(ctx, "a.txt", []Chunk{newChunk("a3", "a.txt", 1, 0)}); err != nil {
		t.Fatalf("ReplaceSource: %v", err)
	}
	stats, _ := s.Stats(ctx)
	if stats.PerSource["a.txt"] != 1 || stats.PerSource["b.txt"] != 1 || stats.TotalChunks != 2 {
		t.Errorf("after replace: per-source %v, total %d", stats.PerSource, stats.TotalChunks)
	}
	results, _ := s.Search(ctx, []float32{1, 0}, 10)
	for _, r := range results {
		if r.Chunk.ID == "a1" || r.Chunk.ID == "a2" {
			t.Errorf("replaced chunk %s still searchable", r.Chunk.ID)
		}
	}
}

func Test_MemoryStore_ReplaceSourceRejectedKeepsOldChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name  string
		batch []Chunk
		want  error
	}{
		{"dimension mismatch", []Chunk{newChunk("a3", "a.txt", 1, 0, 0)}, ErrDimensionMismatch},
		{"missing embedding", []Chunk{newChunk("a3", "a.txt")}, ErrMissingEmbedding},
		{"mixed batch", []Chunk{newChunk("a3", "a.txt", 1, 0), newChunk("a4", "a.txt", 1)}, ErrDimensionMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewMemoryStore()
			_ = s.InsertMany(ctx, []Chunk{
				newChunk("a1", "a.txt", 1, 0),
				newChunk("b1", "b.txt", 0, 1),
			})

			err := s.ReplaceSource(ctx, "a.txt", tc.batch)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
			stats, _ := s.Stats(ctx)
			if stats.PerSource["a.txt"] != 1 || stats.TotalChunks != 2 || stats.Dimension != 2 {
				t.Errorf("rejected replace changed the store: %+v", stats)
			}
		})
	}
}

func Test_MemoryStore_ReplaceSourceDimension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.Insert(ctx, newChunk("a1", "a.txt", 1, 0))

	// The only source may change dimension since nothing else pins it.
	if err := s.ReplaceSource(ctx, "a.txt", []Chunk{newChunk("a2", "a.txt", 1, 0, 0)}); err != nil {
		t.Fatalf("sole source re-dimension: %v", err)
	}
	if stats, _ := s.Stats(ctx); stats.Dimension != 3 {
		t.Errorf("want dimension 3, got %d", stats.Dimension)
	}

	if err := s.ReplaceSource(ctx, "a.txt", nil); err != nil {
		t.Fatalf("replace with nothing: %v", err)
	}
	if stats, _ := s.Stats(ctx); stats.TotalChunks != 0 || stats.Dimension != 0 {
		t.Errorf("want empty store, got %+v", stats)
	}

	if err := s.ReplaceSource(ctx, "a.txt", []Chunk{newChunk("x", "b.txt", 1)}); err == nil {
		t.Error("want error for chunk of another source")
	}
}

func Test_MemoryStore_ConcurrentReplaceSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := []Chunk{
				newChunk(fmt.Sprintf("v%d-0", w), "doc", 1, 0),
				newChunk(fmt.Sprintf("v%d-1", w), "doc", 0, 1),
			}
			_ = s.ReplaceSource(ctx, "doc", batch)
			if results, _ := s.Search(ctx, []float32{1, 1}, 10); len(results) != 2 {
				t.Errorf("search saw %d chunks for a 2-chunk source", len(results))
			}
		}()
	}
	wg.Wait()

	if stats, _ := s.Stats(ctx); stats.TotalChunks != 2 {
		t.Errorf("want 2 chunks after concurrent replaces, got %d", stats.TotalChunks)
	}
}

func Test_MemoryStore_Stats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.InsertMany(ctx, []Chunk{
		newChunk("a1", "a.txt", 1, 0),
		newChunk("a2", "a.txt", 0, 1),
		newChunk("b1", "b.txt", 1, 1),
	})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalChunks != 3 || stats.UniqueSources != 2 {
		t.Errorf("want 3 chunks / 2 sources, got %d / %d", stats.TotalChunks, stats.UniqueSources)
	}
	if stats.PerSource["a.txt"] != 2 || stats.PerSource["b.txt"] != 1 {
		t.Errorf("unexpected per-source counts: %v", stats.PerSource)
	}
	if stats.ApproxMemoryBytes <= 0 {
		t.Errorf("want positive memory estimate, got %d", stats.ApproxMemoryBytes)
	}
	if stats.Dimension != 2 {
		t.Errorf("want dimension 2, got %d", stats.Dimension)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	stats, _ = s.Stats(ctx)
	if stats.TotalChunks != 0 || stats.UniqueSources != 0 || stats.Dimension != 0 {
		t.Errorf("want empty stats after clear, got %+v", stats)
	}
}

func Test_MemoryStore_SearchReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.Insert(ctx, newChunk("a", "doc", 1, 0))
	results, _ := s.Search(ctx, []float32{1, 0}, 1)
	results[0].Chunk.Embedding[0] = -1

	again, _ := s.Search(ctx, []float32{1, 0}, 1)
	if again[0].Similarity != 1 {
		t.Errorf("mutating a result leaked into the store: similarity=%v", again[0].Similarity)
	}
}

func Test_MemoryStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := fmt.Sprintf("doc-%d", w)
			for i := range 50 {
				_ = s.Insert(ctx, newChunk(fmt.Sprintf("%s-%d", src, i), src, float32(i+1), 1))
				_, _ = s.Search(ctx, []float32{1, 1}, 3)
			}
			if w%2 == 0 {
				_, _ = s.RemoveBySource(ctx, src)
			}
		}()
	}
	wg.Wait()

	stats, _ := s.Stats(ctx)
	if stats.TotalChunks != 4*50 {
		t.Errorf("want %d chunks, got %d", 4*50, stats.TotalChunks)
	}
	sum := 0
	for _, n := range stats.PerSource {
		sum += n
	}
	if sum != stats.TotalChunks {
		t.Errorf("source grouping out of sync: per-source sum %d, total %d", sum, stats.TotalChunks)
	}
}
