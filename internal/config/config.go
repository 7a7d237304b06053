// Package config provides YAML-based configuration for docqa.
// Configuration is loaded with a layered precedence: defaults, then the YAML
// file, then env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCQA_CONFIG environment variable
//  3. ~/.docqa/config.yaml
//  4. ./docqa.yaml
//
// If no file is found the system runs entirely from env vars (backwards compatible).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval configures chunking, ranking and prompt budgeting.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Cache configures the embedding and answer cache.
	Cache CacheConfig `yaml:"cache"`

	// Resilience configures retries, the circuit breaker and rate limiting.
	Resilience ResilienceConfig `yaml:"resilience"`

	// Batch configures batch runs.
	Batch BatchConfig `yaml:"batch"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Ark holds Volcengine Ark-specific settings.
	Ark ArkConfig `yaml:"ark"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible server.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint or model ID.
	Model string `yaml:"model"`
	// BaseURL overrides the Ark region endpoint.
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings for RAG.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini, hash).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize caps texts per embeddings request.
	BatchSize int `yaml:"batch_size"`
	// Timeout bounds one embeddings request, as a Go duration string.
	Timeout string `yaml:"timeout"`
}

// RetrievalConfig holds chunking and ranking settings.
type RetrievalConfig struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the overlap carried between consecutive chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// TopK is the default number of chunks retrieved per query.
	TopK int `yaml:"top_k"`
	// SimilarityThreshold is the minimum cosine similarity of a usable chunk.
	// A pointer so that an explicit 0 is distinguishable from unset.
	SimilarityThreshold *float64 `yaml:"similarity_threshold"`
	// EmbedConcurrency bounds parallel chunk embedding calls per document.
	EmbedConcurrency int `yaml:"embed_concurrency"`
	// MaxContextTokens caps the estimated prompt size.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// CacheConfig holds cache settings. TTLs are Go duration strings.
type CacheConfig struct {
	// MaxSize is the maximum number of cached entries.
	MaxSize int `yaml:"max_size"`
	// EmbeddingTTL is the sliding expiration of cached embeddings.
	EmbeddingTTL string `yaml:"embedding_ttl"`
	// QueryTTL is the absolute expiration of cached answers.
	QueryTTL string `yaml:"query_ttl"`
}

// ResilienceConfig holds retry and circuit breaker settings.
type ResilienceConfig struct {
	// MaxAttempts is the total number of attempts per embedding call.
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelay is the first retry delay, doubled per attempt.
	BaseDelay string `yaml:"base_delay"`
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int `yaml:"failure_threshold"`
	// Cooldown is how long the breaker stays open.
	Cooldown string `yaml:"cooldown"`
	// EmbedRateLimit caps embedding calls per second (0 = unlimited).
	EmbedRateLimit float64 `yaml:"embed_rate_limit"`
}

// BatchConfig holds batch run settings.
type BatchConfig struct {
	// MaxParallelism bounds concurrently processed items.
	MaxParallelism int `yaml:"max_parallelism"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var DOCQA_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
	// AddSource annotates records with file and line.
	AddSource bool `yaml:"add_source"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{EnvChunkSize, func(c *Config) string { return intStr(c.Retrieval.ChunkSize) }},
	{EnvChunkOverlap, func(c *Config) string { return intStr(c.Retrieval.ChunkOverlap) }},
	{EnvTopK, func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{EnvSimilarityThreshold, func(c *Config) string { return floatPtrStr(c.Retrieval.SimilarityThreshold) }},
	{EnvEmbedConcurrency, func(c *Config) string { return intStr(c.Retrieval.EmbedConcurrency) }},
	{EnvMaxContextTokens, func(c *Config) string { return intStr(c.Retrieval.MaxContextTokens) }},
	{EnvCacheMaxSize, func(c *Config) string { return intStr(c.Cache.MaxSize) }},
	{EnvCacheEmbeddingTTL, func(c *Config) string { return c.Cache.EmbeddingTTL }},
	{EnvCacheQueryTTL, func(c *Config) string { return c.Cache.QueryTTL }},
	{EnvRetryMaxAttempts, func(c *Config) string { return intStr(c.Resilience.MaxAttempts) }},
	{EnvRetryBaseDelay, func(c *Config) string { return c.Resilience.BaseDelay }},
	{EnvBreakerFailureThreshold, func(c *Config) string { return intStr(c.Resilience.FailureThreshold) }},
	{EnvBreakerCooldown, func(c *Config) string { return c.Resilience.Cooldown }},
	{EnvEmbedRateLimit, func(c *Config) string { return float64Str(c.Resilience.EmbedRateLimit) }},
	{EnvBatchMaxParallelism, func(c *Config) string { return intStr(c.Batch.MaxParallelism) }},
	{"DOCQA_HOST", func(c *Config) string { return c.Server.Host }},
	{"DOCQA_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"DOCQA_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LOG_SOURCE", func(c *Config) string { return boolStr(c.Logging.AddSource) }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	// Unknown keys are rejected so a misspelt setting fails loudly instead of
	// silently falling back to its default.
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return "", fmt.Errorf("config: %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// validate checks the values that would otherwise only fail when a
// command first reads them from the environment.
func (c *Config) validate() error {
	durations := []struct {
		field, value string
	}{
		{"embedding.timeout", c.Embedding.Timeout},
		{"cache.embedding_ttl", c.Cache.EmbeddingTTL},
		{"cache.query_ttl", c.Cache.QueryTTL},
		{"resilience.base_delay", c.Resilience.BaseDelay},
		{"resilience.cooldown", c.Resilience.Cooldown},
	}
	var errs []error
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if v, err := time.ParseDuration(d.value); err != nil || v < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", d.field, d.value))
		}
	}
	if t := c.Retrieval.SimilarityThreshold; t != nil && (*t < -1 || *t > 1) {
		errs = append(errs, fmt.Errorf("retrieval.similarity_threshold: %v outside [-1, 1]", *t))
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("retrieval: chunk_size and chunk_overlap must not be negative"))
	}
	return errors.Join(errs...)
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCQA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docqa", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docqa.yaml"); err == nil {
		return "docqa.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// boolStr returns "true" for true and "" otherwise, so false never
// overrides an unset variable.
func boolStr(v bool) string {
	if v {
		return "true"
	}
	return ""
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// floatPtrStr converts an optional float64 to string, returning "" for nil.
// An explicit zero is kept.
func floatPtrStr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
