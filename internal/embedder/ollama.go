package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultOllamaBatch keeps a single /api/embed call small enough for CPU-only
// hosts to answer within the client timeout.
const defaultOllamaBatch = 32

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint. It is
// safe for concurrent use.
type OllamaEmbedder struct {
	endpoint  string
	model     string
	batchSize int
	client    *http.Client
}

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the server base URL, e.g. "http://localhost:11434".
	Host string
	// Model is the embedding model, e.g. "nomic-embed-text".
	Model string
	// BatchSize caps texts per request. Zero uses 32.
	BatchSize int
	// Timeout bounds each request. Zero uses 60s.
	Timeout time.Duration
}

// NewOllamaEmbedder returns an embedder for cfg.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultOllamaBatch
	}
	return &OllamaEmbedder{
		endpoint:  strings.TrimRight(cfg.Host, "/") + "/api/embed",
		model:     cfg.Model,
		batchSize: batch,
		client:    httpClient(cfg.Timeout),
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return inBatches(ctx, texts, e.batchSize, e.embedBatch)
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const prefix = "ollama embedder"
	var out, failure ollamaEmbedResponse
	err := postJSON(ctx, e.client, prefix, e.endpoint, nil,
		ollamaEmbedRequest{Model: e.model, Input: texts},
		&out, &failure, func() string { return failure.Error })
	if err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%s: expected %d embeddings, got %d", prefix, len(texts), len(out.Embeddings))
	}
	return out.Embeddings, nil
}
