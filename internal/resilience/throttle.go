package resilience

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttle caps the rate of outbound backend calls across all workers.
// A nil *Throttle imposes no limit.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a throttle allowing perSecond calls with the given
// burst. It returns nil, meaning unlimited, when perSecond is not positive.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a call is permitted or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("resilience: throttle wait: %w", err)
	}
	return nil
}
