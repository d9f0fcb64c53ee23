// Package cache memoizes expensive fetches for a bounded time.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultTTL applies when a caller passes a non-positive ttl.
const DefaultTTL = 300 * time.Second

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cohortpulse",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by cache name and result (hit, miss).",
	}, []string{"cache", "result"})

	cacheFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cohortpulse",
		Subsystem: "cache",
		Name:      "fetch_errors_total",
		Help:      "Fetch function failures by cache name. Failures are never cached.",
	}, []string{"cache"})
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a process-local TTL map. Expired entries are treated as absent
// on read and overwritten by the next fetch; nothing sweeps them.
//
// Concurrent misses on one key each run the fetch function. The mutex only
// guards the map and is never held while fetching.
type Cache struct {
	name       string
	defaultTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithDefaultTTL sets the ttl used when callers pass ttl <= 0
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// New creates an empty cache. name labels its metrics.
func New(name string, opts ...Option) *Cache {
	c := &Cache{
		name:       name,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		entries:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCached returns the live value for key, or calls fetch, stores its
// result for ttl and returns it. Fetch errors are returned as-is and leave
// the cache untouched. A stored value of a different type counts as a miss.
func GetCached[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error), ttl time.Duration) (T, error) {
	if v, ok := c.lookup(key); ok {
		if typed, ok := v.(T); ok {
			cacheLookups.WithLabelValues(c.name, "hit").Inc()
			return typed, nil
		}
	}
	cacheLookups.WithLabelValues(c.name, "miss").Inc()

	value, err := fetch(ctx)
	if err != nil {
		cacheFetchErrors.WithLabelValues(c.name).Inc()
		var zero T
		return zero, err
	}

	c.store(key, value, ttl)
	return value, nil
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Clear removes every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// ClearEntry removes one entry; unknown keys are ignored
func (c *Cache) ClearEntry(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len counts stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Name returns the metrics label of the cache
func (c *Cache) Name() string {
	return c.name
}
