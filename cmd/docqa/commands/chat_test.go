package commands

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/54b3r/docqa-go/internal/cache"
	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/rag"
)

// fakeChatEngine is a test double for chatEngine.
type fakeChatEngine struct {
	sources []string
	queries []string
	cleared bool
}

func (f *fakeChatEngine) Query(_ context.Context, query string, _ int, _ ...engine.QueryOption) *engine.RagResult {
	f.queries = append(f.queries, query)
	return &engine.RagResult{
		Query:   query,
		Answer:  "answer: " + query,
		Success: true,
		RetrievedChunks: []rag.RetrievalResult{
			{Chunk: rag.Chunk{Source: "guide.md", Index: 2}, Similarity: 0.91},
		},
	}
}

func (f *fakeChatEngine) RemoveDocument(_ context.Context, source string) (bool, error) {
	for i, s := range f.sources {
		if s == source {
			f.sources = append(f.sources[:i], f.sources[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeChatEngine) ClearIndex(_ context.Context) error {
	f.cleared = true
	f.sources = nil
	return nil
}

func (f *fakeChatEngine) ListSources(_ context.Context) ([]string, error) {
	return f.sources, nil
}

func (f *fakeChatEngine) GetStats(_ context.Context) (engine.Stats, error) {
	return engine.Stats{
		Index:      rag.IndexStats{TotalChunks: 7, UniqueSources: len(f.sources), Dimension: 384},
		Cache:      cache.Stats{Size: 3, MaxSize: 1000, HitRate: 0.5},
		QueryCache: cache.Stats{Size: 2, MaxSize: 1000, HitRate: 0.25},
		Breakers:   map[string]string{"generate": "closed"},
	}, nil
}

func TestRunChat(t *testing.T) {
	t.Parallel()

	eng := &fakeChatEngine{sources: []string{"a.md", "b.md"}}
	in := strings.NewReader(strings.Join([]string{
		"how do I deploy?",
		"",
		"/sources",
		"/remove a.md",
		"/remove a.md",
		"/remove",
		"/stats",
		"/bogus",
		"/clear",
		"/quit",
		"never asked",
	}, "\n"))
	var out bytes.Buffer

	if err := runChat(context.Background(), in, &out, eng, 0); err != nil {
		t.Fatalf("runChat: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"answer: how do I deploy?",
		"guide.md (chunk 2, similarity 0.91)",
		"  a.md\n  b.md\n",
		"removed a.md",
		"not indexed: a.md",
		"usage: /remove <source>",
		"chunks: 7  sources: 1  dimension: 384",
		"embedding cache: 3/1000 entries  hit rate 50%",
		"query cache: 2/1000 entries  hit rate 25%",
		"breaker generate: closed",
		"unknown command /bogus",
		"index cleared",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n--- output ---\n%s", want, got)
		}
	}
	if len(eng.queries) != 1 {
		t.Errorf("expected 1 query before /quit, got %v", eng.queries)
	}
	if !eng.cleared {
		t.Error("expected /clear to clear the index")
	}
}

func TestRunChat_EOFEndsLoop(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	if err := runChat(context.Background(), strings.NewReader("/sources"), &out, &fakeChatEngine{}, 0); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if !strings.Contains(out.String(), "no documents indexed") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestPrintResult_Failure(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	printResult(&out, &engine.RagResult{
		Answer:    "Sorry, I could not answer that right now.",
		Error:     errors.New("generation backend down").Error(),
		FromCache: false,
	})
	got := out.String()
	if !strings.Contains(got, "error: generation backend down") {
		t.Errorf("failure reason missing: %q", got)
	}
	if strings.Contains(got, "Sources:") {
		t.Errorf("no sources expected: %q", got)
	}
}

func TestPrintResult_Cached(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	printResult(&out, &engine.RagResult{Answer: "yes", Success: true, FromCache: true})
	if !strings.Contains(out.String(), "cached") {
		t.Errorf("cache marker missing: %q", out.String())
	}
}
