package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	// DefaultFailureThreshold is the number of consecutive failures that
	// opens a breaker.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long an open breaker rejects calls.
	DefaultCooldown = 30 * time.Second
)

// State is the position of a circuit breaker in its state machine.
type State int

const (
	// StateClosed lets every call through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects every call until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
)

// String returns the lower-case state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// fromGobreaker maps the library state onto State, whose numbering is
// exported through metrics.
func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// BreakerSettings configures circuit breakers. Zero fields take defaults.
type BreakerSettings struct {
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before allowing a trial.
	Cooldown time.Duration
	// OnStateChange, if set, is called after every transition. It runs under
	// the breaker lock and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
	// Logger receives transition events. Nil means slog.Default.
	Logger *slog.Logger
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = DefaultCooldown
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

// CircuitBreaker stops calling a failing operation for a cooldown window.
//
//	Closed --threshold consecutive failures--> Open
//	Open --cooldown elapsed--> HalfOpen
//	HalfOpen --trial success--> Closed
//	HalfOpen --trial failure--> Open (cooldown restarts)
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker returns a closed breaker for the named operation.
func NewCircuitBreaker(name string, settings BreakerSettings) *CircuitBreaker {
	settings = settings.withDefaults()
	threshold := uint32(settings.FailureThreshold)

	return &CircuitBreaker{
		name: name,
		cb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     settings.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// A caller giving up says nothing about the backend.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f, t := fromGobreaker(from), fromGobreaker(to)
				settings.Logger.Warn("circuit breaker state changed",
					slog.String("operation", name),
					slog.String("from", f.String()),
					slog.String("to", t.String()),
					slog.Int("failure_threshold", settings.FailureThreshold),
				)
				if settings.OnStateChange != nil {
					settings.OnStateChange(name, f, t)
				}
			},
		}),
	}
}

// Name returns the operation name the breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state. An open breaker whose cooldown has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() State {
	return fromGobreaker(cb.cb.State())
}

// Execute runs fn unless the breaker is open. A rejected call returns an
// error wrapping ErrServiceUnavailable and fn is not invoked. Context
// cancellation by the caller is not counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Execute for operations that return a value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	_, err := cb.cb.Execute(func() (any, error) {
		v, err := fn(ctx)
		out = v
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out, fmt.Errorf("%s: %w: %w", cb.name, err, ErrServiceUnavailable)
	}
	return out, err
}

// Breakers hands out one CircuitBreaker per operation name, all sharing the
// same settings.
type Breakers struct {
	settings BreakerSettings

	mu sync.Mutex
	m  map[string]*CircuitBreaker
}

// NewBreakers returns an empty registry.
func NewBreakers(settings BreakerSettings) *Breakers {
	return &Breakers{
		settings: settings.withDefaults(),
		m:        make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (b *Breakers) Get(name string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.m[name]
	if !ok {
		cb = NewCircuitBreaker(name, b.settings)
		b.m[name] = cb
	}
	return cb
}

// States returns the current state of every breaker created so far.
func (b *Breakers) States() map[string]State {
	b.mu.Lock()
	snapshot := maps.Clone(b.m)
	b.mu.Unlock()

	out := make(map[string]State, len(snapshot))
	for name, cb := range snapshot {
		out[name] = cb.State()
	}
	return out
}
