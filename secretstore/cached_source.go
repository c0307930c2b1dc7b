package secretstore

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// CachedSource wraps another Source with an in-memory cache and singleflight
// fetch suppression: when many components reconnect at once, concurrent
// lookups for the same subdomain trigger a single upstream fetch.
type CachedSource struct {
	source Source
	cache  *cache.Cache
	group  singleflight.Group
	ttl    time.Duration
}

// NewCachedSource wraps source with a cache holding secrets for ttl.
//
// Parameters:
//   - source: The upstream secret source
//   - ttl: How long a fetched secret stays cached
//   - cleanupInterval: Interval at which expired entries are evicted
//
// Returns:
//   - A new *CachedSource
func NewCachedSource(source Source, ttl, cleanupInterval time.Duration) *CachedSource {
	return &CachedSource{
		source: source,
		cache:  cache.New(ttl, cleanupInterval),
		ttl:    ttl,
	}
}

// Secret implements Source. Cache misses fetch from the upstream source; for
// concurrent misses on the same subdomain only one fetch is executed.
func (c *CachedSource) Secret(ctx context.Context, subdomain string) (string, error) {
	if val, found := c.cache.Get(subdomain); found {
		if secret, ok := val.(string); ok {
			return secret, nil
		}
	}

	val, err, _ := c.group.Do(subdomain, func() (interface{}, error) {
		// Another lookup may have populated the cache while we waited.
		if cached, found := c.cache.Get(subdomain); found {
			if secret, ok := cached.(string); ok {
				return secret, nil
			}
		}

		secret, err := c.source.Secret(ctx, subdomain)
		if err != nil {
			return "", err
		}

		c.cache.Set(subdomain, secret, c.ttl)
		return secret, nil
	})

	if err != nil {
		return "", err
	}

	secret, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("unexpected cached type for subdomain %s", subdomain)
	}

	return secret, nil
}

// Invalidate drops the cached secret for a subdomain, forcing the next
// lookup to hit the upstream source.
func (c *CachedSource) Invalidate(subdomain string) {
	c.cache.Delete(subdomain)
}
