// Package cache holds the cached-query layer the realtime manager invalidates.
// Dashboards read through a query cache; a debounced invalidation drops every
// entry under a key prefix, which forces a refetch on the next read.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Entry is one cached query result
type Entry struct {
	Value    any
	StoredAt time.Time
}

// MemoryCache is the in-process query cache used by dashboards and tests
type MemoryCache struct {
	entries *xsync.MapOf[string, Entry]
}

// NewMemoryCache creates an empty in-process query cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: xsync.NewMapOf[string, Entry]()}
}

// Get returns the cached value for key, if present
func (c *MemoryCache) Get(key string) (any, bool) {
	entry, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Set stores a query result under key
func (c *MemoryCache) Set(key string, value any) {
	c.entries.Store(key, Entry{Value: value, StoredAt: time.Now()})
}

// Invalidate drops every entry whose key starts with prefix
func (c *MemoryCache) Invalidate(_ context.Context, prefix string) error {
	c.entries.Range(func(key string, _ Entry) bool {
		if strings.HasPrefix(key, prefix) {
			c.entries.Delete(key)
		}
		return true
	})
	return nil
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	return c.entries.Size()
}

// Multi fans an invalidation out to several backends (e.g. the in-process
// cache plus a shared Redis cache). The first failure aborts the fan-out.
type Multi []interface {
	Invalidate(ctx context.Context, prefix string) error
}

// Invalidate runs the invalidation against every backend in order
func (m Multi) Invalidate(ctx context.Context, prefix string) error {
	for _, inv := range m {
		if err := inv.Invalidate(ctx, prefix); err != nil {
			return err
		}
	}
	return nil
}
