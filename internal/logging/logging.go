// Package logging builds the process-wide [log/slog] logger and carries it
// through request and batch contexts.
//
// Environment variables:
//
//	LOG_LEVEL   = debug | info | warn | error  (default: info)
//	LOG_FORMAT  = json | text                  (default: json)
//	LOG_SOURCE  = true | false                 (default: false)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Format selects the slog handler.
type Format string

const (
	// FormatJSON emits one JSON object per record. It is the default.
	FormatJSON Format = "json"
	// FormatText emits logfmt-style key=value lines for local use.
	FormatText Format = "text"
)

// Options control the logger returned by [NewWithOptions].
type Options struct {
	// Level is the minimum severity written.
	Level slog.Level
	// Format selects JSON or text output.
	Format Format
	// AddSource annotates records with file:line.
	AddSource bool
	// Writer receives the output. Nil means os.Stderr so stdout stays free
	// for answers printed by the CLI.
	Writer io.Writer
}

type contextKey struct{}

// New returns a logger configured from LOG_LEVEL, LOG_FORMAT and LOG_SOURCE.
func New() *slog.Logger {
	return NewWithOptions(OptionsFromEnv())
}

// OptionsFromEnv reads logger options from the environment. Unknown values
// fall back to the defaults rather than failing startup.
func OptionsFromEnv() Options {
	addSource, _ := strconv.ParseBool(os.Getenv("LOG_SOURCE"))
	return Options{
		Level:     ParseLevel(os.Getenv("LOG_LEVEL")),
		Format:    parseFormat(os.Getenv("LOG_FORMAT")),
		AddSource: addSource,
	}
}

// NewWithOptions returns a logger built from opts.
func NewWithOptions(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}

	if opts.Format == FormatText {
		return slog.New(slog.NewTextHandler(w, ho))
	}
	return slog.New(slog.NewJSONHandler(w, ho))
}

// Discard returns a logger that drops every record. Tests and library
// callers without a logger use it.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or [slog.Default].
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithAttrs stores a child of the context logger annotated with attrs, so
// later FromContext calls (for example inside a batch item) inherit them.
func WithAttrs(ctx context.Context, attrs ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(attrs...))
}

// ParseLevel converts a level name to a [slog.Level], defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}
