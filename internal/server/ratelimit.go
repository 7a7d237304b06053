package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests per second allowed per client
	// on the indexing, query and batch endpoints.
	defaultRateLimit = 10
	// defaultRateBurst absorbs short spikes such as a UI firing a few queries
	// at once.
	defaultRateBurst = 20
	// limiterIdleTTL is how long an idle client keeps its bucket.
	limiterIdleTTL = 5 * time.Minute
)

// clientBucket is one client's token bucket.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles expensive endpoints per client address. Embedding
// and generation calls cost money, so a single noisy client must not starve
// the rest.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
	log     *slog.Logger
	// onReject is called with the handler name of every rejected request.
	onReject func(handler string)
	now      func() time.Time
}

// newRateLimiter returns a limiter and a stop function for its eviction
// goroutine.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
		now:     time.Now,
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.evictIdle()
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(stop) }) }
}

func (rl *rateLimiter) bucket(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[client] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// evictIdle drops buckets unused for limiterIdleTTL and returns how many
// remain.
func (rl *rateLimiter) evictIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	for client, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, client)
		}
	}
	return len(rl.buckets)
}

// middleware rejects requests over the client's budget with 429, a JSON
// error body and a Retry-After hint derived from the bucket's refill time.
func (rl *rateLimiter) middleware(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		res := rl.bucket(client).ReserveN(rl.now(), 1)
		if res.OK() && res.DelayFrom(rl.now()) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		retry := 1
		if res.OK() {
			retry = max(1, int(math.Ceil(res.DelayFrom(rl.now()).Seconds())))
			res.CancelAt(rl.now())
		}
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("client", client),
			slog.String("handler", name),
			slog.Int("retry_after_s", retry),
		)
		if rl.onReject != nil {
			rl.onReject(name)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSONError(w, r, "rate limit exceeded", http.StatusTooManyRequests)
	})
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored
// because the server is expected to listen on a private interface.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	// Unbracketed IPv6 ("::1:8080") or a bare host.
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i > 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
