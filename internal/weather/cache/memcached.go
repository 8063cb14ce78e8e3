package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/pocketscreen/mobile-services/internal/weather/models"
)

const keyPrefix = "weather:"

// MemcachedCache implements Cache using memcached. Entries are stored with
// the stale window added to their memcached expiration, and the freshness
// deadline travels inside the stored envelope so Get can distinguish fresh
// from stale without a second round trip.
type MemcachedCache struct {
	client   *memcache.Client
	staleFor time.Duration
}

// memcachedEnvelope wraps a reading with its freshness deadline.
type memcachedEnvelope struct {
	Reading   models.Reading `json:"reading"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. staleFor is how long
// past its TTL an entry remains servable via GetStale.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, staleFor time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, staleFor: staleFor}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
// Entries past their freshness deadline are treated as misses but left in
// memcached for GetStale.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	env, ok, err := c.fetch(ctx, key)
	if err != nil || !ok {
		return models.Reading{}, false, err
	}
	if time.Now().After(env.ExpiresAt) {
		return models.Reading{}, false, nil
	}
	return env.Reading, true, nil
}

// GetStale implements Cache.GetStale. Anything memcached still holds is inside
// the stale window, since Set adds staleFor to the memcached expiration.
func (c *MemcachedCache) GetStale(ctx context.Context, key string) (models.Reading, bool, error) {
	env, ok, err := c.fetch(ctx, key)
	if err != nil || !ok {
		return models.Reading{}, false, err
	}
	return env.Reading, true, nil
}

func (c *MemcachedCache) fetch(ctx context.Context, key string) (memcachedEnvelope, bool, error) {
	if ctx.Err() != nil {
		return memcachedEnvelope{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return memcachedEnvelope{}, false, nil
		}
		return memcachedEnvelope{}, false, err
	}
	var env memcachedEnvelope
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return memcachedEnvelope{}, false, err
	}
	return env, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(memcachedEnvelope{
		Reading:   value,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return err
	}
	expSec := int32((ttl + c.staleFor).Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
