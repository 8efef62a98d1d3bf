package airlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ResponseCache stores raw upstream response bodies keyed by request URL. A
// single ResponseCache is shared by every request served by the process, so
// implementations must be safe for concurrent use.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// CacheConfig selects and configures the response cache.
type CacheConfig struct {
	// Type is one of "memory", "redis" or "none"
	Type          string        `json:"type"`
	TTL           string        `json:"ttl"`
	TTLDuration   time.Duration `json:"-"`
	MaxCost       int64         `json:"max-cost"`
	RedisAddress  string        `json:"redis-address"`
	RedisPassword string        `json:"redis-password"`
	RedisDB       int           `json:"redis-db"`
}

// NewResponseCache builds the cache described by cfg.
func NewResponseCache(cfg CacheConfig) (ResponseCache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(cfg.MaxCost)
	case "redis":
		if cfg.RedisAddress == "" {
			return nil, errors.New("redis cache requires redis-address")
		}
		return NewRedisCache(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), nil
	case "none":
		return NoopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

// MemoryCache is an in-process ResponseCache. Entries are admitted and
// evicted by ristretto, with the body length as cost.
type MemoryCache struct {
	cache *ristretto.Cache[string, []byte]
}

// NewMemoryCache returns a MemoryCache holding at most maxCost bytes of
// response bodies.
func NewMemoryCache(maxCost int64) (*MemoryCache, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// ~10x the expected number of entries, assuming 1KiB bodies
		NumCounters: max(maxCost/1024*10, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create memory cache: %w", err)
	}
	return &MemoryCache{cache: cache}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		observeCache("memory", "miss")
		return nil, false
	}
	observeCache("memory", "hit")
	return v, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if c.cache.SetWithTTL(key, value, int64(len(value)), ttl) {
		observeCache("memory", "set")
	}
}

// Wait blocks until pending writes are visible to Get.
func (c *MemoryCache) Wait() {
	c.cache.Wait()
}

func (c *MemoryCache) Close() {
	c.cache.Close()
}

// RedisCache is a ResponseCache backed by redis, shareable between several
// gateway processes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(opts *redis.Options) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(opts),
		prefix: "airlock:",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		observeCache("redis", "miss")
		return nil, false
	}
	if err != nil {
		observeCache("redis", "error")
		log.WithError(err).WithField("key", key).Warn("redis cache get failed")
		return nil, false
	}
	observeCache("redis", "hit")
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		observeCache("redis", "error")
		log.WithError(err).WithField("key", key).Warn("redis cache set failed")
		return
	}
	observeCache("redis", "set")
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (NoopCache) Set(context.Context, string, []byte, time.Duration) {}
