package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
)

// SystemPrompt frames every answer: the model must stay within the supplied
// context and say so when the context does not contain the answer.
const SystemPrompt = `You are a precise documentation assistant. Answer questions using only the
context supplied in the user message. Cite the source names you relied on.
If the context does not contain the answer, say that you could not find it in
the indexed documents instead of guessing.`

// ChatGenerator adapts an eino chat model to rag.Generator: the system prompt
// becomes the system message and the engine-built prompt the user message.
type ChatGenerator struct {
	// model is the underlying chat model.
	model model.BaseChatModel
	// name labels the model in logs and traces.
	name string
	// handlers are eino callback handlers (e.g. Langfuse) attached to each call.
	handlers []callbacks.Handler
}

// GeneratorOption configures a ChatGenerator.
type GeneratorOption func(*ChatGenerator)

// WithName sets the label used in logs and traces.
func WithName(name string) GeneratorOption {
	return func(g *ChatGenerator) { g.name = name }
}

// WithCallbacks attaches eino callback handlers to every generation.
func WithCallbacks(handlers ...callbacks.Handler) GeneratorOption {
	return func(g *ChatGenerator) {
		for _, h := range handlers {
			if h != nil {
				g.handlers = append(g.handlers, h)
			}
		}
	}
}

// NewChatGenerator wraps m.
func NewChatGenerator(m model.BaseChatModel, opts ...GeneratorOption) *ChatGenerator {
	g := &ChatGenerator{model: m, name: "docqa-generate"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements rag.Generator.
func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(SystemPrompt),
		schema.UserMessage(prompt),
	}
	logging.FromContext(ctx).Debug("generating answer",
		slog.String("model", g.name),
		slog.Int("prompt_tokens_est", budget.EstimateMessages(msgs)),
	)

	if len(g.handlers) > 0 {
		ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
			Name:      g.name,
			Component: components.ComponentOfChatModel,
		}, g.handlers...)
	}

	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("provider: generate: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", fmt.Errorf("provider: generate: empty response")
	}
	return out.Content, nil
}
