package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"cliprelay/internal/core/extractor"
	"cliprelay/internal/shared/logger"
)

type entry struct {
	info     *extractor.VideoInfo
	storedAt time.Time
}

// Cache holds extraction results keyed by canonical video URL. Expiry
// is lazy: an entry older than the TTL is simply a miss, left in place
// until Put overwrites it or Purge sweeps it. With one entry per
// recently requested video there is nothing worth a janitor goroutine.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache with the given TTL. Zero or negative falls back
// to one hour.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached result for key, or nil on a miss. An entry
// whose age has reached the TTL counts as a miss.
func (c *Cache) Get(key string) *extractor.VideoInfo {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return e.info
}

// Put stores a result, restarting the TTL clock for its key.
func (c *Cache) Put(key string, info *extractor.VideoInfo) {
	c.mu.Lock()
	c.entries[key] = entry{info: info, storedAt: c.now()}
	c.mu.Unlock()

	logger.WithComponent("Cache").Debug().Str("key", key).Msg("Result cached.")
}

// Len reports how many entries are stored, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge drops every entry and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	logger.WithComponent("Cache").Info().Int("removed", n).Msg("Cache purged.")
	return n
}

// Stats is the cache counters view for the admin surface.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	TTLSec  int64 `json:"ttl_sec"`
}

func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		TTLSec:  int64(c.ttl / time.Second),
	}
}
