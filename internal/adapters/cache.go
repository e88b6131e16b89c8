package adapters

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"sentinelsniper/internal/metrics"
)

// PriceCache caches venue spot prices in Redis with a short TTL so repeated
// scans within one tick interval do not hammer the exchanges. The cache is
// strictly optional: any Redis failure behaves like a miss and the venue is
// queried directly.
type PriceCache struct {
	client  *goredis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewPriceCache connects to Redis and returns a PriceCache, or nil (no
// caching) when addr is empty or the server is unreachable. A nil
// *PriceCache is safe to use.
func NewPriceCache(addr, password string, ttl time.Duration, m *metrics.Metrics) *PriceCache {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[cache] redis unreachable at %s, price cache disabled: %v", addr, err)
		client.Close()
		return nil
	}
	log.Printf("[cache] price cache connected to %s (ttl %s)", addr, ttl)
	return &PriceCache{client: client, ttl: ttl, metrics: m}
}

// Client returns the underlying Redis client for health checks. nil-safe.
func (c *PriceCache) Client() *goredis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

func priceKey(venue, symbol, quote string) string {
	return fmt.Sprintf("price:%s:%s%s", venue, symbol, quote)
}

// Get returns a cached price, if present.
func (c *PriceCache) Get(ctx context.Context, venue, symbol, quote string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	val, err := c.client.Get(ctx, priceKey(venue, symbol, quote)).Result()
	if err != nil {
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return 0, false
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return price, true
}

// Set stores a price under the cache TTL. Failures are logged and ignored.
func (c *PriceCache) Set(ctx context.Context, venue, symbol, quote string, price float64) {
	if c == nil {
		return
	}
	key := priceKey(venue, symbol, quote)
	if err := c.client.Set(ctx, key, strconv.FormatFloat(price, 'f', -1, 64), c.ttl).Err(); err != nil {
		log.Printf("[cache] set %s: %v", key, err)
	}
}

// Close closes the Redis connection. nil-safe.
func (c *PriceCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
