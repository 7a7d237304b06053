// Package audit records what a docqa invocation ran with: the command, the
// config file it loaded and the effective environment, with credentials
// reduced to "set" or "unset". A matching end record carries the outcome and
// wall time so a log reader can pair them by run_id.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// secretSuffixes mark variables whose values are never logged.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN", "_PASSWORD"}

// auditGroups lists the variables recorded on every command, grouped by the
// subsystem they configure.
var auditGroups = []struct {
	name string
	keys []string
}{
	{"provider", []string{
		"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL", "OPENAI_API_KEY", "OPENAI_MODEL",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
		"GOOGLE_API_KEY", "GEMINI_MODEL", "ARK_API_KEY", "ARK_MODEL",
	}},
	{"embedding", []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
		"EMBEDDING_DIMENSIONS", "EMBED_RATE_LIMIT",
	}},
	{"retrieval", []string{
		"RAG_CHUNK_SIZE", "RAG_CHUNK_OVERLAP", "RAG_TOP_K", "RAG_SIMILARITY_THRESHOLD",
		"RAG_MAX_CONTEXT_TOKENS", "CACHE_MAX_SIZE", "CACHE_EMBEDDING_TTL", "CACHE_QUERY_TTL",
	}},
	{"resilience", []string{
		"RETRY_MAX_ATTEMPTS", "RETRY_BASE_DELAY", "BREAKER_FAILURE_THRESHOLD", "BREAKER_COOLDOWN",
		"BATCH_MAX_PARALLELISM",
	}},
	{"runtime", []string{
		"DOCQA_API_KEY", "LOG_LEVEL", "LOG_FORMAT", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
	}},
}

// Run identifies one command invocation between Start and End.
type Run struct {
	log     *slog.Logger
	id      string
	command string
	started time.Time
}

// LogCommandStart writes the start record and returns the run handle used
// for the matching End call.
func LogCommandStart(log *slog.Logger, command, configPath string) *Run {
	r := &Run{log: log, id: uuid.NewString(), command: command, started: time.Now()}

	attrs := []slog.Attr{
		slog.String("run_id", r.id),
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, g := range auditGroups {
		group := make([]any, 0, len(g.keys))
		for _, key := range g.keys {
			group = append(group, slog.String(key, SanitiseKey(key, os.Getenv(key))))
		}
		attrs = append(attrs, slog.Group(g.name, group...))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
	return r
}

// End writes the completion record. A nil Run is a no-op so callers need not
// track whether Start ran.
func (r *Run) End(err error) {
	if r == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("run_id", r.id),
		slog.String("command", r.command),
		slog.Duration("elapsed", time.Since(r.started)),
		slog.Bool("success", err == nil),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	r.log.LogAttrs(context.Background(), level, "audit: command end", attrs...)
}

// IsSecret reports whether key names a credential.
func IsSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// SanitiseKey returns what may be logged for key: presence only for
// credentials, the value otherwise.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case IsSecret(key):
		return "set"
	default:
		return value
	}
}

// sanitiseConfigPath returns p with the home directory shortened to "~", or
// "none" when no file was loaded.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
