// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. The OpenAI, Azure OpenAI and
// Ollama backends talk plain HTTP, Gemini goes through the genai SDK, and the
// hash backend runs fully offline.
//
// Network failures and HTTP 429/5xx responses are marked with
// resilience.Transient so the engine's retry policy can tell them apart from
// configuration errors.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultOpenAIBatch stays well below the API's 2048-input limit so a single
// request also fits the per-request token cap.
const defaultOpenAIBatch = 256

// OpenAIEmbedder calls the OpenAI or Azure OpenAI embeddings API. It is safe
// for concurrent use.
type OpenAIEmbedder struct {
	url        string
	header     http.Header
	model      string
	dimensions int
	batchSize  int
	client     *http.Client
}

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is "https://api.openai.com/v1" for OpenAI or
	// "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	APIKey  string
	// Model is the model name, or the deployment name on Azure.
	Model string
	// Dimensions truncates vectors server-side. Zero keeps the model default.
	Dimensions int
	// Azure switches to deployment URLs and the api-key header.
	Azure bool
	// APIVersion is the Azure api-version query value.
	APIVersion string
	// BatchSize caps texts per request. Zero uses 256.
	BatchSize int
	// Timeout bounds each request. Zero uses 60s.
	Timeout time.Duration
}

// NewOpenAIEmbedder returns an embedder for cfg.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	e := &OpenAIEmbedder{
		url:        base + "/embeddings",
		header:     http.Header{},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		client:     httpClient(cfg.Timeout),
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultOpenAIBatch
	}
	if cfg.Azure {
		e.url = base + "/deployments/" + cfg.Model + "/embeddings?api-version=" + cfg.APIVersion
		e.header.Set("api-key", cfg.APIKey)
	} else {
		e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return e
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openaiErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed returns one vector per text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return inBatches(ctx, texts, e.batchSize, e.embedBatch)
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const prefix = "openai embedder"
	var (
		out     openaiEmbedResponse
		failure openaiErrorResponse
	)
	err := postJSON(ctx, e.client, prefix, e.url, e.header,
		openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions},
		&out, &failure, func() string {
			if failure.Error == nil {
				return ""
			}
			return failure.Error.Message
		})
	if err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%s: expected %d embeddings, got %d", prefix, len(texts), len(out.Data))
	}

	// Items carry their input position and may arrive in any order.
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) || vecs[d.Index] != nil {
			return nil, fmt.Errorf("%s: bad or duplicate index %d", prefix, d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
