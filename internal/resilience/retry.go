package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts is the total number of attempts, first call included.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait before the first retry. Each later retry
	// doubles it, giving 2s, 4s, 8s...
	DefaultBaseDelay = 2 * time.Second
)

// Retrier retries transient failures with exponential backoff. The zero
// value is usable and applies the defaults.
type Retrier struct {
	// MaxAttempts is the total number of attempts. Zero means DefaultMaxAttempts.
	MaxAttempts int
	// BaseDelay is the delay before the first retry. Zero means DefaultBaseDelay.
	BaseDelay time.Duration
	// Logger receives one warning per retry. Nil means slog.Default.
	Logger *slog.Logger
}

func (r *Retrier) attempts() int {
	if r == nil || r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

func (r *Retrier) schedule(ctx context.Context) backoff.BackOff {
	base := DefaultBaseDelay
	if r != nil && r.BaseDelay > 0 {
		base = r.BaseDelay
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         base << 10,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.attempts()-1)), ctx)
}

func (r *Retrier) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Do runs fn under r's retry policy. op names the operation in logs and
// errors. Non-transient errors are returned at once. When every attempt
// fails the last error is returned wrapped with the attempt count.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		r.logger().Warn("retrying after transient failure",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.attempts()),
			slog.Duration("backoff", next),
			slog.Any("error", err),
		)
	}

	v, err := backoff.RetryNotifyWithData(operation, r.schedule(ctx), notify)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil || !IsTransient(err) {
		return v, fmt.Errorf("%s: %w", op, err)
	}
	return v, fmt.Errorf("%s: failed after %d attempts: %w", op, attempt, err)
}

// Run is Do for operations without a result.
func (r *Retrier) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
