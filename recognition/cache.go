package recognition

import (
	"sync"
	"time"

	"github.com/gogpu/gg/cache"
)

type cacheEntry struct {
	result  Result
	expires time.Time
}

type expiry struct {
	key     string
	expires time.Time
}

// resultCache is a size bounded LRU with time based expiration. Reads and
// writes are safe from any goroutine.
type resultCache struct {
	entries *cache.ShardedCache[string, cacheEntry]
	ttl     time.Duration

	// expirations are kept in insertion order; the ttl is constant so the
	// head always expires first.
	mu    sync.Mutex
	queue []expiry
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	return &resultCache{
		entries: cache.NewSharded[string, cacheEntry](capacity, cache.StringHasher),
		ttl:     ttl,
	}
}

func (c *resultCache) get(key string, now time.Time) (Result, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return Result{}, false
	}
	if c.ttl > 0 && !now.Before(e.expires) {
		c.entries.Delete(key)
		return Result{}, false
	}
	return e.result, true
}

func (c *resultCache) put(key string, r Result, now time.Time) {
	e := cacheEntry{result: r, expires: now.Add(c.ttl)}
	c.entries.Set(key, e)

	if c.ttl > 0 {
		c.mu.Lock()
		c.queue = append(c.queue, expiry{key: key, expires: e.expires})
		c.mu.Unlock()
	}
}

// sweep drops expired entries and returns how many were removed.
func (c *resultCache) sweep(now time.Time) int {
	c.mu.Lock()
	var due []expiry
	i := 0
	for ; i < len(c.queue) && !now.Before(c.queue[i].expires); i++ {
		due = append(due, c.queue[i])
	}
	c.queue = append([]expiry(nil), c.queue[i:]...)
	c.mu.Unlock()

	removed := 0
	for _, d := range due {
		e, ok := c.entries.Get(d.key)
		// the key may have been refreshed by a later put
		if ok && !now.Before(e.expires) && c.entries.Delete(d.key) {
			removed++
		}
	}
	return removed
}

func (c *resultCache) clear() {
	c.entries.Clear()
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
}

func (c *resultCache) len() int {
	return c.entries.Len()
}

func (c *resultCache) stats() cache.Stats {
	return c.entries.Stats()
}
