// Package cache implements a small in-process TTL cache used to absorb
// repeated reads on the cluster query endpoints.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a mutex-guarded map with per-entry expiry. Expired entries are
// dropped lazily on read and whenever Set is called.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) if absent or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// ClearPattern removes every key containing the given fragment. Invalidation
// after writes uses key-space prefixes like "agents:" and "cluster:".
func (c *Cache) ClearPattern(fragment string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if strings.Contains(k, fragment) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries, including any not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key builds a deterministic cache key from a namespace and call arguments.
// Arguments are canonicalized through JSON so equal inputs always map to the
// same key.
func Key(namespace string, args ...any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:16])
}
