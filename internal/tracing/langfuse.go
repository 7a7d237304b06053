// Package tracing wires optional Langfuse tracing into answer generation.
// Tracing is enabled only when both LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Environment variables read by Setup.
const (
	EnvHost      = "LANGFUSE_HOST"
	EnvPublicKey = "LANGFUSE_PUBLIC_KEY"
	EnvSecretKey = "LANGFUSE_SECRET_KEY"
)

// defaultHost is the self-hosted Langfuse address used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Tracer holds the callback handler passed to the generator and the flush
// function that must run before process exit.
type Tracer struct {
	// Handler receives generation callbacks. Nil when tracing is disabled.
	Handler callbacks.Handler
	flush   func()
}

// Enabled reports whether traces are being sent.
func (t *Tracer) Enabled() bool { return t != nil && t.Handler != nil }

// Flush sends buffered traces. It is a no-op when tracing is disabled.
func (t *Tracer) Flush() {
	if t != nil && t.flush != nil {
		t.flush()
	}
}

// Setup initialises the Langfuse callback handler from the environment. It
// always returns a usable Tracer; when Langfuse is not configured the Tracer
// is disabled and Flush does nothing.
func Setup(log *slog.Logger) *Tracer {
	publicKey := os.Getenv(EnvPublicKey)
	secretKey := os.Getenv(EnvSecretKey)
	if publicKey == "" || secretKey == "" {
		return &Tracer{}
	}
	host := os.Getenv(EnvHost)
	if host == "" {
		host = defaultHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "docqa",
	})
	log.Info("langfuse tracing enabled", slog.String("host", host))
	return &Tracer{Handler: handler, flush: flusher}
}
