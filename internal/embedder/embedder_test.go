package embedder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/resilience"
)

func Test_HashEmbedder_Deterministic(t *testing.T) {
	t.Parallel()
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"Key rotation is documented here"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, []string{"key ROTATION is documented here!"})
	if len(a[0]) != 64 {
		t.Fatalf("dimension = %d, want 64", len(a[0]))
	}
	if sim := rag.CosineSimilarity(a[0], b[0]); math.Abs(sim-1) > 1e-6 {
		t.Errorf("case and punctuation should not matter, similarity = %f", sim)
	}
}

func Test_HashEmbedder_Normalised(t *testing.T) {
	t.Parallel()
	vecs, _ := NewHashEmbedder(0).Embed(context.Background(), []string{"one two three", "!!!"})
	if len(vecs[0]) != defaultHashDimensions {
		t.Fatalf("default dimension = %d", len(vecs[0]))
	}
	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("squared norm = %f, want 1", norm)
	}
	for _, v := range vecs[1] {
		if v != 0 {
			t.Fatal("text without words must embed to the zero vector")
		}
	}
}

func Test_HashEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	t.Parallel()
	vecs, _ := NewHashEmbedder(512).Embed(context.Background(), []string{
		"how do I rotate the database password",
		"rotate the database password every month",
		"bananas grow in tropical climates",
	})
	related := rag.CosineSimilarity(vecs[0], vecs[1])
	unrelated := rag.CosineSimilarity(vecs[0], vecs[2])
	if related <= unrelated {
		t.Errorf("related %f should exceed unrelated %f", related, unrelated)
	}
}

func Test_HashEmbedder_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).Embed(ctx, []string{"x"}); err == nil {
		t.Error("want error for cancelled context")
	}
}

func Test_StatusError_Classification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		err := statusError("test", tt.status, "")
		if got := resilience.IsTransient(err); got != tt.transient {
			t.Errorf("status %d: transient = %v, want %v (%v)", tt.status, got, tt.transient, err)
		}
	}
}

func Test_OllamaEmbedder_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := ollamaEmbedResponse{}
		for range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{1, 0})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Errorf("got %d vectors, want 2", len(vecs))
	}
}

func Test_OllamaEmbedder_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"model loading"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"}).Embed(context.Background(), []string{"a"})
	if err == nil || !resilience.IsTransient(err) {
		t.Errorf("want transient error, got %v", err)
	}
}

func Test_OpenAIEmbedder_OrdersByIndexAndRejectsBadRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[0,1],"index":1},{"embedding":[1,0],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "m"})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("embeddings not reordered by index: %v", vecs)
	}

	bad := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "wrong", Model: "m"})
	_, err = bad.Embed(context.Background(), []string{"x"})
	if err == nil || resilience.IsTransient(err) {
		t.Errorf("want permanent error for 401, got %v", err)
	}
}

func Test_NewFromEnv_Backends(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "hash", env: map[string]string{"EMBEDDING_PROVIDER": "hash"}},
		{name: "ollama default", env: map[string]string{"EMBEDDING_PROVIDER": "", "MODEL_PROVIDER": ""}},
		{name: "openai missing key", env: map[string]string{"EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": "", "EMBEDDING_API_KEY": ""}, wantErr: true},
		{name: "azure missing endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k", "AZURE_OPENAI_ENDPOINT": "", "EMBEDDING_ENDPOINT": ""}, wantErr: true},
		{name: "unknown", env: map[string]string{"EMBEDDING_PROVIDER": "bogus"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFromEnv() error = %v, wantErr %v", err, tt.wantErr)
			}
			if vErr := Validate(slog.New(slog.NewTextHandler(io.Discard, nil))); (vErr != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", vErr, tt.wantErr)
			}
		})
	}
}

func Test_DefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	if got := DefaultDimensions("hash"); got != defaultHashDimensions {
		t.Errorf("hash = %d", got)
	}
	if got := DefaultDimensions("ollama"); got != defaultOllamaDimensions {
		t.Errorf("ollama = %d", got)
	}
	t.Setenv("EMBEDDING_DIMENSIONS", "42")
	if got := DefaultDimensions("openai"); got != 42 {
		t.Errorf("override = %d, want 42", got)
	}
}

func Test_LooksLikeChatModel(t *testing.T) {
	t.Parallel()
	if !looksLikeChatModel("llama3.1:8b") {
		t.Error("llama3 should be flagged")
	}
	if looksLikeChatModel("nomic-embed-text") {
		t.Error("nomic-embed-text should not be flagged")
	}
}

func Test_OllamaEmbedder_SplitsIntoBatches(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		sizes []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		sizes = append(sizes, len(req.Input))
		mu.Unlock()
		out := ollamaEmbedResponse{}
		for _, in := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(len(in))})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "m", BatchSize: 2})
	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 3 || sizes[0] != 2 || sizes[2] != 1 {
		t.Errorf("request sizes = %v, want [2 2 1]", sizes)
	}
	for i, v := range vecs {
		if int(v[0]) != i+1 {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
}

func Test_HTTPEmbedders_EmptyInputSkipsRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for empty input")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	for _, e := range []rag.Embedder{
		NewOllamaEmbedder(&OllamaConfig{Host: srv.URL}),
		NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL}),
	} {
		vecs, err := e.Embed(context.Background(), nil)
		if err != nil || len(vecs) != 0 {
			t.Errorf("%T: got %v, %v", e, vecs, err)
		}
	}
}

func Test_OpenAIEmbedder_AzureRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/embed-small/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2025-04-01-preview" {
			t.Errorf("api-version = %q", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("api-key") != "az-key" || r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected auth headers: %v", r.Header)
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[1],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "az-key",
		Model:      "embed-small",
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})
	if _, err := e.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatal(err)
	}
}

func Test_OpenAIEmbedder_RejectsDuplicateIndex(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"embedding":[1],"index":0},{"embedding":[2],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL}).Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Error("want error for duplicate index")
	}
}
