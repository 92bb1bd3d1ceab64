// ABOUTME: Short-TTL positive-result cache for validation decisions
// ABOUTME: Keyed by credential fingerprint; safe for concurrent use

package auth

import (
	"sync"
	"time"
)

// resultCache caches successfully validated principals for a bounded TTL.
// It is an optimization, not a correctness mechanism: a race at worst costs
// an extra store round trip, never an incorrect allow. Only positive results
// are stored; scope checks happen after retrieval so one entry serves
// requests with different requirements.
type resultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
	now        func() time.Time
}

type cacheEntry struct {
	principal Principal
	expiresAt time.Time
}

const defaultCacheMaxEntries = 4096

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		ttl:        ttl,
		maxEntries: defaultCacheMaxEntries,
		entries:    make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// get returns a copy of the cached principal for the fingerprint, if the
// entry has not passed its TTL.
func (c *resultCache) get(fp string) (*Principal, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, fp)
		return nil, false
	}
	p := entry.principal
	return &p, true
}

// put stores a copy of the principal under the fingerprint.
func (c *resultCache) put(fp string, p *Principal) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.sweepLocked()
		// Still full after sweeping expired entries: drop the write rather
		// than grow without bound.
		if len(c.entries) >= c.maxEntries {
			return
		}
	}

	c.entries[fp] = cacheEntry{
		principal: *p,
		expiresAt: c.now().Add(c.ttl),
	}
}

// sweepLocked removes expired entries. Caller holds the lock.
func (c *resultCache) sweepLocked() {
	now := c.now()
	for fp, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, fp)
		}
	}
}

// len returns the number of entries, expired ones included.
func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
