// Package cache provides a run-scoped result cache for reads against the
// code host.
//
// Entries never expire on their own: a cache instance lives for one workflow
// run and is dropped with it. Writes to the host invalidate the affected
// keys instead (see the forge package for the key scheme).
package cache

import "strings"

// Stats are run-scoped counters for observability.
type Stats struct {
	Hits          int `json:"hits"`
	Misses        int `json:"misses"`
	Invalidations int `json:"invalidations"`
	Size          int `json:"size"`
}

// Cache is a string key/value store with targeted invalidation.
//
// A Cache instance is owned by one sequential delegation path; it is not
// safe for concurrent use.
type Cache struct {
	entries       map[string]string
	hits          int
	misses        int
	invalidations int
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Get returns the cached value for key. The second result reports whether
// the key was present; either way the lookup is counted.
func (c *Cache) Get(key string) (string, bool) {
	value, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return value, ok
}

// Set stores value under key, overwriting any previous value.
func (c *Cache) Set(key, value string) {
	c.entries[key] = value
}

// Invalidate removes key and reports whether it was present.
func (c *Cache) Invalidate(key string) bool {
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.invalidations++
	return true
}

// InvalidateByPrefix removes every key starting with prefix and returns the
// number of entries removed.
func (c *Cache) InvalidateByPrefix(prefix string) int {
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.invalidations += removed
	return removed
}

// InvalidateByPrefixAndSuffix removes every key matching both prefix and
// suffix. Keys matching only one of the two survive, which keeps listings
// for unrelated locations cached across writes.
func (c *Cache) InvalidateByPrefixAndSuffix(prefix, suffix string) int {
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.invalidations += removed
	return removed
}

// Clear drops every entry without touching the hit/miss counters.
func (c *Cache) Clear() {
	cleared := len(c.entries)
	c.entries = make(map[string]string)
	c.invalidations += cleared
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Invalidations: c.invalidations,
		Size:          len(c.entries),
	}
}

// ReadThrough serves key from the cache when present; on a miss it runs
// fetch, stores the result, and returns it. fetch errors are propagated
// without caching anything.
func ReadThrough(c *Cache, key string, fetch func() (string, error)) (string, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := fetch()
	if err != nil {
		return "", err
	}
	c.Set(key, value)
	return value, nil
}
