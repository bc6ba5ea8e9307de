package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// DefaultLRUSize bounds the in-process cache when no size is configured.
const DefaultLRUSize = 1024

// LRUCache is a bounded in-process Cache. The least recently used entry is
// evicted once the bound is reached; expired entries are dropped on access.
// Safe for concurrent use.
type LRUCache struct {
	entries *lru.Cache[string, Entry]
	now     func() time.Time
}

// NewLRUCache creates an LRUCache holding at most size entries.
// size <= 0 uses DefaultLRUSize.
func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = DefaultLRUSize
	}
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache{entries: entries, now: time.Now}, nil
}

// Get implements Cache.Get.
func (c *LRUCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	e, ok := c.entries.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	if e.Expired(c.now()) {
		c.entries.Remove(key)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set implements Cache.Set. An existing entry under the same key is replaced.
func (c *LRUCache) Set(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if evicted := c.entries.Add(entry.Key, entry); evicted {
		observability.CacheEvictionsTotal.Inc()
	}
	return nil
}

// Delete implements Cache.Delete.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

// Purge drops every entry.
func (c *LRUCache) Purge() {
	c.entries.Purge()
}
