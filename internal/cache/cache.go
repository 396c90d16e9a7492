// Package cache provides a time-bounded key/value store for serialized API
// responses. Values are JSON encoded and zstd compressed on store, and an
// entry is never served once its expiry has passed.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yash/flightwatch/internal/metrics"
)

const (
	defaultTTL           = 5 * time.Minute
	defaultSweepInterval = time.Minute
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Option configures a Cache.
type Option func(*Cache)

// WithDefaultTTL sets the TTL used when Store is called with ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithSweepInterval sets how often the janitor calls ClearExpired.
// Zero disables the janitor.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) { c.sweepInterval = d }
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

type entry struct {
	payload   []byte
	expiresAt time.Time
	gen       uint64
}

// Cache is safe for concurrent use. All access to the underlying map goes
// through its methods.
type Cache struct {
	defaultTTL    time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	gen     uint64
	cancel  context.CancelFunc

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	running   atomic.Bool
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		defaultTTL:    defaultTTL,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		entries:       make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultTTL returns the TTL applied when none is given.
func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Store serializes value under key with an absolute expiry of now+ttl.
// Failures are logged and leave the key absent.
func (c *Cache) Store(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("Cache store failed for %q: %v", key, err)
		c.Invalidate(key)
		return
	}
	payload := compress(raw)

	c.mu.Lock()
	c.gen++
	c.entries[key] = entry{payload: payload, expiresAt: c.now().Add(ttl), gen: c.gen}
	c.mu.Unlock()
}

// Retrieve decodes the value stored under key into dest. It returns false
// when the key is absent, expired, or no longer decodes into dest; the
// latter two evict the entry. Decoding happens outside the lock.
func (c *Cache) Retrieve(key string, dest interface{}) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.now().After(e.expiresAt) {
		c.evict(key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.miss()
		return false
	}

	raw, err := decompress(e.payload)
	if err == nil {
		err = json.Unmarshal(raw, dest)
	}
	if err != nil {
		log.Printf("Cache decode failed for %q, evicting: %v", key, err)
		c.mu.Lock()
		// a concurrent Store may have replaced it
		if cur, ok := c.entries[key]; ok && cur.gen == e.gen {
			c.evict(key)
		}
		c.mu.Unlock()
		c.miss()
		return false
	}

	c.hits.Add(1)
	metrics.CacheHits.Inc()
	return true
}

// Invalidate removes key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// ClearExpired removes every entry whose expiry has passed and returns the
// number removed.
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.evict(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// must be called with mu held
func (c *Cache) evict(key string) {
	delete(c.entries, key)
	c.evictions.Add(1)
}

func (c *Cache) miss() {
	c.misses.Add(1)
	metrics.CacheMisses.Inc()
}

// ---------------------------------------------------------------------------
// Janitor
// ---------------------------------------------------------------------------

// Start begins the periodic expiry sweep.
func (c *Cache) Start(ctx context.Context) {
	if c.sweepInterval <= 0 {
		log.Println("Cache sweep disabled (interval = 0)")
		return
	}
	if c.running.Swap(true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.sweepLoop(ctx)
}

// Stop halts the sweep.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.running.Store(false)
}

func (c *Cache) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.ClearExpired(); n > 0 {
				log.Printf("Cache sweep: expired=%d remaining=%d", n, c.Len())
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
