package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables read by SettingsFromEnv.
const (
	EnvChunkSize               = "RAG_CHUNK_SIZE"
	EnvChunkOverlap            = "RAG_CHUNK_OVERLAP"
	EnvTopK                    = "RAG_TOP_K"
	EnvSimilarityThreshold     = "RAG_SIMILARITY_THRESHOLD"
	EnvEmbedConcurrency        = "RAG_EMBED_CONCURRENCY"
	EnvMaxContextTokens        = "RAG_MAX_CONTEXT_TOKENS"
	EnvCacheMaxSize            = "CACHE_MAX_SIZE"
	EnvCacheEmbeddingTTL       = "CACHE_EMBEDDING_TTL"
	EnvCacheQueryTTL           = "CACHE_QUERY_TTL"
	EnvRetryMaxAttempts        = "RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay          = "RETRY_BASE_DELAY"
	EnvBreakerFailureThreshold = "BREAKER_FAILURE_THRESHOLD"
	EnvBreakerCooldown         = "BREAKER_COOLDOWN"
	EnvEmbedRateLimit          = "EMBED_RATE_LIMIT"
	EnvBatchMaxParallelism     = "BATCH_MAX_PARALLELISM"
)

// Settings are the typed retrieval, cache and resilience knobs, resolved from
// the environment after Load has applied any YAML file.
type Settings struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int
	// ChunkOverlap is the overlap carried between consecutive chunks.
	ChunkOverlap int
	// TopK is the default number of chunks retrieved per query.
	TopK int
	// SimilarityThreshold is the minimum cosine similarity of a usable chunk.
	SimilarityThreshold float64
	// EmbedConcurrency bounds parallel chunk embedding calls per document.
	EmbedConcurrency int
	// MaxContextTokens caps the estimated prompt size (0 = unlimited).
	MaxContextTokens int
	// CacheMaxSize is the maximum number of cached entries.
	CacheMaxSize int
	// EmbeddingTTL is the sliding expiration of cached embeddings.
	EmbeddingTTL time.Duration
	// QueryTTL is the absolute expiration of cached answers.
	QueryTTL time.Duration
	// RetryMaxAttempts is the total number of attempts per embedding call.
	RetryMaxAttempts int
	// RetryBaseDelay is the first retry delay, doubled per attempt.
	RetryBaseDelay time.Duration
	// BreakerFailureThreshold is the number of consecutive failures that opens the breaker.
	BreakerFailureThreshold int
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration
	// EmbedRateLimit caps embedding calls per second (0 = unlimited).
	EmbedRateLimit float64
	// BatchMaxParallelism bounds concurrently processed batch items.
	BatchMaxParallelism int
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		ChunkSize:               1000,
		ChunkOverlap:            200,
		TopK:                    5,
		SimilarityThreshold:     0.7,
		EmbedConcurrency:        4,
		MaxContextTokens:        6000,
		CacheMaxSize:            1000,
		EmbeddingTTL:            time.Hour,
		QueryTTL:                30 * time.Minute,
		RetryMaxAttempts:        3,
		RetryBaseDelay:          2 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerCooldown:         30 * time.Second,
		EmbedRateLimit:          0,
		BatchMaxParallelism:     4,
	}
}

// SettingsFromEnv overlays environment variables on DefaultSettings. Every
// malformed or out-of-range value is reported; the returned error joins them.
func SettingsFromEnv() (Settings, error) {
	s := DefaultSettings()
	var errs []error

	intVar := func(key string, dst *int, minVal int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < minVal {
			errs = append(errs, fmt.Errorf("config: %s=%q must be an integer >= %d", key, v, minVal))
			return
		}
		*dst = n
	}
	durVar := func(key string, dst *time.Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("config: %s=%q must be a positive duration", key, v))
			return
		}
		*dst = d
	}
	floatVar := func(key string, dst *float64, minVal, maxVal float64) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < minVal || f > maxVal {
			errs = append(errs, fmt.Errorf("config: %s=%q must be a number in [%g, %g]", key, v, minVal, maxVal))
			return
		}
		*dst = f
	}

	intVar(EnvChunkSize, &s.ChunkSize, 1)
	intVar(EnvChunkOverlap, &s.ChunkOverlap, 0)
	intVar(EnvTopK, &s.TopK, 1)
	floatVar(EnvSimilarityThreshold, &s.SimilarityThreshold, -1, 1)
	intVar(EnvEmbedConcurrency, &s.EmbedConcurrency, 1)
	intVar(EnvMaxContextTokens, &s.MaxContextTokens, 0)
	intVar(EnvCacheMaxSize, &s.CacheMaxSize, 1)
	durVar(EnvCacheEmbeddingTTL, &s.EmbeddingTTL)
	durVar(EnvCacheQueryTTL, &s.QueryTTL)
	intVar(EnvRetryMaxAttempts, &s.RetryMaxAttempts, 1)
	durVar(EnvRetryBaseDelay, &s.RetryBaseDelay)
	intVar(EnvBreakerFailureThreshold, &s.BreakerFailureThreshold, 1)
	durVar(EnvBreakerCooldown, &s.BreakerCooldown)
	floatVar(EnvEmbedRateLimit, &s.EmbedRateLimit, 0, 1e6)
	intVar(EnvBatchMaxParallelism, &s.BatchMaxParallelism, 1)

	if s.ChunkOverlap >= s.ChunkSize {
		errs = append(errs, fmt.Errorf("config: %s (%d) must be smaller than %s (%d)",
			EnvChunkOverlap, s.ChunkOverlap, EnvChunkSize, s.ChunkSize))
	}
	return s, errors.Join(errs...)
}
