package catalog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"soundmesh/internal/models"
)

// DefaultCacheTTL is how long a cached item stays valid without being
// looked up or re-materialized.
const DefaultCacheTTL = time.Hour

// ItemCache is a thread-safe, time-bounded map of catalog items keyed by id.
//
// It is a performance aid, not a source of truth: the store stays
// authoritative for remote-origin items once created. Concurrent queries
// from different users share one cache; a stale miss only costs an extra
// store or remote lookup.
type ItemCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uuid.UUID]*cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

type cacheEntry struct {
	item      *models.MediaItem
	expiresAt time.Time
}

// NewItemCache creates an ItemCache with the given TTL.
// A non-positive TTL falls back to [DefaultCacheTTL].
func NewItemCache(ttl time.Duration) *ItemCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ItemCache{
		ttl:     ttl,
		entries: make(map[uuid.UUID]*cacheEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the cached item for id, refreshing the TTL on a hit.
// Expired entries are evicted on access. Callers own the copy: per-query
// state like the Favorite flag must not bleed between users through the
// shared cache.
func (c *ItemCache) Get(id uuid.UUID) (*models.MediaItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}

	if c.now().After(entry.expiresAt) {
		delete(c.entries, id)
		return nil, false
	}

	entry.expiresAt = c.now().Add(c.ttl)
	item := *entry.item
	return &item, true
}

// Put stores a copy of the item under its id with a fresh TTL. Later
// mutations of the caller's item never reach the cached entry.
func (c *ItemCache) Put(item *models.MediaItem) {
	if item == nil || item.ID == uuid.Nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	clone := *item
	c.entries[item.ID] = &cacheEntry{
		item:      &clone,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Len returns the number of entries currently held, expired or not.
func (c *ItemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
