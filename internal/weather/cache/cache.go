package cache

import (
	"context"
	"sync"
	"time"

	"github.com/pocketscreen/mobile-services/internal/weather/models"
)

// Cache defines the interface for weather reading caches.
// Get returns cached data if present and fresh, Set stores data with TTL.
// GetStale also returns entries whose TTL has lapsed, as long as they are
// still inside the stale window; the service falls back to it when the
// upstream is unavailable.
type Cache interface {
	Get(ctx context.Context, key string) (models.Reading, bool, error)
	GetStale(ctx context.Context, key string) (models.Reading, bool, error)
	Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based
// expiration. Entries older than TTL+staleFor are removed on access.
// Safe for concurrent use.
type InMemoryCache struct {
	mu       sync.Mutex
	data     map[string]cacheEntry
	staleFor time.Duration
}

// cacheEntry stores a cached reading with its freshness and eviction deadlines.
type cacheEntry struct {
	value     models.Reading
	expiresAt time.Time
	evictAt   time.Time
}

// NewInMemoryCache creates an in-memory cache. staleFor is how long past its
// TTL an entry remains servable via GetStale; zero disables stale serving.
func NewInMemoryCache(staleFor time.Duration) *InMemoryCache {
	return &InMemoryCache{
		data:     make(map[string]cacheEntry),
		staleFor: staleFor,
	}
}

// Get retrieves the cached reading for the key if present and fresh.
// Returns (data, true, nil) on cache hit, (zero, false, nil) on miss or
// expiration. Entries past the stale window are removed.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Reading{}, false, nil
	}

	now := time.Now()
	if now.After(entry.evictAt) {
		delete(c.data, key)
		return models.Reading{}, false, nil
	}
	if now.After(entry.expiresAt) {
		// Expired but inside the stale window; keep it for GetStale.
		return models.Reading{}, false, nil
	}

	return entry.value, true, nil
}

// GetStale retrieves the cached reading even when its TTL has lapsed, as long
// as the entry is still inside the stale window.
func (c *InMemoryCache) GetStale(ctx context.Context, key string) (models.Reading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Reading{}, false, nil
	}
	if time.Now().After(entry.evictAt) {
		delete(c.data, key)
		return models.Reading{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores a reading in cache with the specified TTL duration. The entry
// stays servable via GetStale for staleFor beyond the TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: expiresAt,
		evictAt:   expiresAt.Add(c.staleFor),
	}
	return nil
}
