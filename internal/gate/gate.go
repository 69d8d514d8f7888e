// Package gate enforces per-client fixed-window rate limits and one-shot
// dedupe markers against a shared counter store. Both checks must be atomic
// in the backing store so concurrent request handlers cannot race past them.
package gate

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Gate is the abuse-prevention gate consulted before mutating operations.
//
// Both methods fail closed: a backend error is surfaced to the caller, which
// rejects the request rather than allowing unlimited actions.
type Gate interface {
	// IsRateLimited increments the counter for the current fixed window of
	// the given key, refreshes its expiry to the window size, and reports
	// whether the post-increment count exceeds limit. Windows are fixed-size
	// and time-aligned, so a burst across a window boundary is possible;
	// this is the accepted trade-off for O(1) state.
	IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// CheckAndSetDedupe atomically creates the marker for key if absent and
	// reports whether it already existed. The existence check and creation
	// are one atomic operation, never read-then-write.
	CheckAndSetDedupe(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// InMemory is an in-process Gate used for tests and development. The clock
// is injectable so window boundaries can be tested deterministically.
type InMemory struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]int
	markers  map[string]time.Time
}

// NewInMemory creates an in-memory gate using the wall clock.
func NewInMemory() *InMemory {
	return NewInMemoryWithClock(time.Now)
}

// NewInMemoryWithClock creates an in-memory gate with an injected clock.
func NewInMemoryWithClock(now func() time.Time) *InMemory {
	return &InMemory{
		now:      now,
		counters: make(map[string]int),
		markers:  make(map[string]time.Time),
	}
}

// windowKey scopes a counter key to its fixed time bucket.
func windowKey(key string, now time.Time, window time.Duration) string {
	bucket := now.Unix() / int64(window.Seconds())
	return "rate:" + key + ":" + strconv.FormatInt(bucket, 10)
}

// IsRateLimited increments the fixed-window counter and checks the limit.
func (g *InMemory) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	wk := windowKey(key, g.now(), window)
	g.counters[wk]++
	return g.counters[wk] > limit, nil
}

// CheckAndSetDedupe creates the marker if absent under the gate lock.
func (g *InMemory) CheckAndSetDedupe(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expiry, ok := g.markers[key]; ok && now.Before(expiry) {
		return true, nil
	}
	g.markers[key] = now.Add(ttl)
	return false, nil
}
