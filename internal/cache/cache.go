// Package cache provides the bounded, TTL-based in-memory cache shared by the
// engine for chunk embeddings and full query results.
//
// The cache never evicts live entries to make room. Once it holds MaxSize
// entries every further Set is dropped until entries expire or are removed.
// This is backpressure: callers treat a dropped Set as a future miss and
// recompute, so correctness never depends on a Set succeeding.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxSize is the entry capacity used when none is configured.
	DefaultMaxSize = 1000
	// DefaultTTL applies when Set is called with a non-positive ttl.
	DefaultTTL = 30 * time.Minute

	// keySeparator joins key components. It is a control character that does
	// not occur in ordinary text.
	keySeparator = "\x1f"
)

// entry is a single cached value with its expiration policy.
type entry struct {
	value     any
	expiresAt time.Time
	// ttl is kept so sliding entries can be extended on every hit.
	ttl     time.Duration
	sliding bool
}

// Stats is a point-in-time snapshot of cache usage.
type Stats struct {
	// Size is the number of entries currently held, including expired
	// entries not yet purged.
	Size int `json:"size"`
	// MaxSize is the configured capacity.
	MaxSize int `json:"maxSize"`
	// Hits counts Get calls that returned a live value.
	Hits int64 `json:"hits"`
	// Misses counts Get calls that found nothing or an expired value.
	Misses int64 `json:"misses"`
	// HitRate is Hits/(Hits+Misses), or 0 before any lookup.
	HitRate float64 `json:"hitRate"`
}

// Cache is a concurrency-safe key/value store with per-entry expiration and
// a hard capacity. The size check and the insert happen under one lock, so
// concurrent writers can never push it past MaxSize.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64

	// now returns the current time. Overridable in tests.
	now func() time.Time
}

// New returns an empty cache holding at most maxSize entries. A non-positive
// maxSize selects DefaultMaxSize.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		entries: make(map[string]*entry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss. A hit on a sliding entry pushes its expiry forward.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	now := c.now()
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		c.misses.Add(1)
		return nil, false
	}
	if e.sliding {
		e.expiresAt = now.Add(e.ttl)
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with an absolute ttl and reports whether it was
// stored. When the cache is full the call is a silent no-op, including for
// keys already present.
func (c *Cache) Set(key string, value any, ttl time.Duration) bool {
	return c.set(key, value, ttl, false)
}

// SetSliding is like Set but the entry expires ttl after its last hit rather
// than after insertion.
func (c *Cache) SetSliding(key string, value any, ttl time.Duration) bool {
	return c.set(key, value, ttl, true)
}

func (c *Cache) set(key string, value any, ttl time.Duration, sliding bool) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.maxSize {
		c.purgeExpiredLocked(now)
		if len(c.entries) >= c.maxSize {
			return false
		}
	}
	c.entries[key] = &entry{
		value:     value,
		expiresAt: now.Add(ttl),
		ttl:       ttl,
		sliding:   sliding,
	}
	return true
}

// Remove deletes key and reports whether it was present.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear drops every entry. Hit and miss counters are preserved so the hit
// rate keeps describing the process lifetime.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Stats returns the current usage snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
	}
}

// PurgeExpired removes all expired entries and returns how many were removed.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked(c.now())
}

func (c *Cache) purgeExpiredLocked(now time.Time) int {
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// StartJanitor purges expired entries every interval in a background
// goroutine. The returned function stops it and is safe to call more than
// once.
func (c *Cache) StartJanitor(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.PurgeExpired()
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// GenerateKey derives a deterministic key from prefix and the ordered string
// form of components. The components are hashed with SHA-256 so keys have a
// fixed length regardless of input size.
func GenerateKey(prefix string, components ...any) string {
	parts := make([]string, len(components))
	for i, c := range components {
		parts[i] = fmt.Sprint(c)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, keySeparator)))
	return prefix + ":" + hex.EncodeToString(sum[:])
}
