// Package cache memoizes windowed query results.
//
// One process-wide instance is created at startup and handed to the
// components that need it; nothing here survives a restart. Any mutation of
// the result store must call Flush so no window can serve stale data.
package cache

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// WindowTTL bounds how long a cached day-window result set is served.
const WindowTTL = 24 * time.Hour

type Cache struct {
	c *gocache.Cache
}

// New creates an empty cache. Expired entries are swept every cleanup
// interval; TTL is set per entry by Remember.
func New() *Cache {
	return &Cache{c: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

// WindowKey names the cached result set for a "last N days" query.
func WindowKey(days int) string {
	return fmt.Sprintf("window-days-%d", days)
}

// Flush drops every entry. Called after any append or delete: windows can
// retroactively overlap any record's timestamp, so partial invalidation is
// never provably safe here.
func (c *Cache) Flush() {
	c.c.Flush()
}

// Len reports the number of entries, expired ones included.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}

// Remember returns the cached value for key if present and unexpired,
// otherwise computes it, stores it with the given TTL and returns it.
//
// Concurrent callers missing on the same key may each run compute; that is
// acceptable because the store is immutable at read time, so duplicate
// computations converge to the same value.
func Remember[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	if v, ok := c.c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	c.c.Set(key, v, ttl)
	return v, nil
}
