package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, maxSize int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New(maxSize)
	c.now = clock.Now
	return c, clock
}

func TestCache_GetSet(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, 10)

	if _, ok := c.Get("missing"); ok {
		t.Error("want miss for unknown key")
	}
	if !c.Set("k", 42, time.Minute) {
		t.Fatal("Set reported not stored")
	}
	v, ok := c.Get("k")
	if !ok || v.(int) != 42 {
		t.Errorf("Get = %v, %v; want 42, true", v, ok)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Size != 1 || st.MaxSize != 10 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.HitRate != 0.5 {
		t.Errorf("want hit rate 0.5, got %v", st.HitRate)
	}
}

func TestCache_RejectsWhenFull(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, 2)

	if !c.Set("a", 1, time.Hour) || !c.Set("b", 2, time.Hour) {
		t.Fatal("first two inserts should succeed")
	}
	if c.Set("c", 3, time.Hour) {
		t.Error("third insert should be rejected")
	}
	if st := c.Stats(); st.Size != 2 {
		t.Errorf("want size 2, got %d", st.Size)
	}
	if _, ok := c.Get("c"); ok {
		t.Error("rejected key must report a miss")
	}
	// Existing entries are untouched, including overwrites while full.
	if c.Set("a", 100, time.Hour) {
		t.Error("overwrite while full should be rejected")
	}
	if v, _ := c.Get("a"); v.(int) != 1 {
		t.Errorf("want original value 1, got %v", v)
	}
}

func TestCache_FullCacheAcceptsAfterExpiry(t *testing.T) {
	t.Parallel()
	c, clock := newTestCache(t, 1)

	c.Set("a", 1, time.Minute)
	clock.Advance(2 * time.Minute)
	if !c.Set("b", 2, time.Minute) {
		t.Error("insert should succeed once the expired entry is purged")
	}
}

func TestCache_Expiration(t *testing.T) {
	t.Parallel()
	c, clock := newTestCache(t, 10)

	c.Set("abs", "x", time.Minute)
	c.SetSliding("slide", "y", time.Minute)

	clock.Advance(45 * time.Second)
	if _, ok := c.Get("slide"); !ok {
		t.Fatal("sliding entry expired early")
	}
	clock.Advance(45 * time.Second)

	if _, ok := c.Get("abs"); ok {
		t.Error("absolute entry should have expired")
	}
	if _, ok := c.Get("slide"); !ok {
		t.Error("sliding entry should have been extended by the last hit")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := c.Get("slide"); ok {
		t.Error("sliding entry should expire after ttl without hits")
	}
}

func TestCache_RemoveAndClear(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, 10)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	if !c.Remove("a") {
		t.Error("Remove should report true for present key")
	}
	if c.Remove("a") {
		t.Error("Remove should report false for absent key")
	}

	c.Get("b")
	c.Clear()
	st := c.Stats()
	if st.Size != 0 {
		t.Errorf("want size 0 after Clear, got %d", st.Size)
	}
	if st.Hits != 1 {
		t.Errorf("Clear should keep counters, got hits=%d", st.Hits)
	}
}

func TestCache_PurgeExpired(t *testing.T) {
	t.Parallel()
	c, clock := newTestCache(t, 10)

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clock.Advance(time.Minute)

	if n := c.PurgeExpired(); n != 1 {
		t.Errorf("want 1 purged, got %d", n)
	}
	if st := c.Stats(); st.Size != 1 {
		t.Errorf("want size 1, got %d", st.Size)
	}
}

func TestCache_ConcurrentSetNeverExceedsCapacity(t *testing.T) {
	t.Parallel()
	const maxSize = 50
	c := New(maxSize)

	var wg sync.WaitGroup
	for w := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				c.Set(fmt.Sprintf("w%d-%d", w, i), i, time.Hour)
				c.Get(fmt.Sprintf("w%d-%d", w, i/2))
			}
		}()
	}
	wg.Wait()

	if st := c.Stats(); st.Size != maxSize {
		t.Errorf("want size exactly %d, got %d", maxSize, st.Size)
	}
}

func TestCache_StartJanitor(t *testing.T) {
	t.Parallel()
	c, clock := newTestCache(t, 10)
	c.Set("a", 1, time.Millisecond)
	clock.Advance(time.Second)

	stop := c.StartJanitor(5 * time.Millisecond)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().Size != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not purge expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()
}

func Test_GenerateKey(t *testing.T) {
	t.Parallel()

	if GenerateKey("embedding", "hello") != GenerateKey("embedding", "hello") {
		t.Error("identical inputs must yield identical keys")
	}
	if GenerateKey("embedding", "hello") == GenerateKey("embedding", "world") {
		t.Error("different values must yield different keys")
	}
	if GenerateKey("query", "q", 5) == GenerateKey("query", "q", 3) {
		t.Error("different topK must yield different keys")
	}
	if GenerateKey("query", "a", "b") == GenerateKey("query", "b", "a") {
		t.Error("component order must matter")
	}
	if GenerateKey("query", "ab", "c") == GenerateKey("query", "a", "bc") {
		t.Error("component boundaries must matter")
	}
	if GenerateKey("embedding", "x") == GenerateKey("query", "x") {
		t.Error("prefix must matter")
	}
}
