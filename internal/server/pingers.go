package server

import (
	"context"
	"fmt"

	"github.com/54b3r/docqa-go/internal/resilience"
)

// EmbedderPinger probes the embedding backend through a single-text embed
// call. It satisfies the Pinger interface and is used by GET /api/ready.
type EmbedderPinger struct {
	// probe is the engine health check, typically (*engine.Engine).Ping.
	probe func(ctx context.Context) error
}

// NewEmbedderPinger constructs an EmbedderPinger around probe.
func NewEmbedderPinger(probe func(ctx context.Context) error) *EmbedderPinger {
	return &EmbedderPinger{probe: probe}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping runs the embed probe.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if err := p.probe(ctx); err != nil {
		return fmt.Errorf("embed probe failed: %w", err)
	}
	return nil
}

// BreakerPinger reports the generation backend as unready while its circuit
// breaker is open. It makes no network call, so readiness checks never spend
// tokens on the chat model.
type BreakerPinger struct {
	// state returns the current breaker state.
	state func() resilience.State
	// name identifies the backend in readiness responses (e.g. "generator").
	name string
}

// NewBreakerPinger constructs a BreakerPinger for the given state source.
func NewBreakerPinger(name string, state func() resilience.State) *BreakerPinger {
	return &BreakerPinger{state: state, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *BreakerPinger) Name() string { return p.name }

// Ping fails while the breaker is open. Half-open counts as ready so the
// trial call can go through.
func (p *BreakerPinger) Ping(_ context.Context) error {
	if st := p.state(); st == resilience.StateOpen {
		return fmt.Errorf("circuit breaker is %s", st)
	}
	return nil
}
