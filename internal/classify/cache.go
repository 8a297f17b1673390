package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seenimoa/b3fetch/pkg/models"
)

// Cache stores remote classification results. Entries never expire; they
// are removed only by Clear.
type Cache interface {
	Get(ctx context.Context, t models.TickerSymbol) (models.ClassificationResult, bool, error)
	Set(ctx context.Context, r models.ClassificationResult) error
	Clear(ctx context.Context) error
}

// MemoryCache is an in-process Cache. Reads and writes for different
// tickers do not contend.
type MemoryCache struct {
	m sync.Map // TickerSymbol → ClassificationResult
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (c *MemoryCache) Get(_ context.Context, t models.TickerSymbol) (models.ClassificationResult, bool, error) {
	v, ok := c.m.Load(t)
	if !ok {
		return models.ClassificationResult{}, false, nil
	}
	return v.(models.ClassificationResult), true, nil
}

func (c *MemoryCache) Set(_ context.Context, r models.ClassificationResult) error {
	c.m.Store(r.Ticker, r)
	return nil
}

func (c *MemoryCache) Clear(context.Context) error {
	c.m.Clear()
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// DefaultKeyPrefix namespaces classification entries in Redis.
const DefaultKeyPrefix = "b3fetch:classify:"

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

// DialRedis connects to Redis and verifies the connection with a PING.
func DialRedis(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisCache shares classifications across processes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps client. An empty prefix uses DefaultKeyPrefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(t models.TickerSymbol) string { return c.prefix + t.String() }

func (c *RedisCache) Get(ctx context.Context, t models.TickerSymbol) (models.ClassificationResult, bool, error) {
	data, err := c.client.Get(ctx, c.key(t)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ClassificationResult{}, false, nil
	}
	if err != nil {
		return models.ClassificationResult{}, false, fmt.Errorf("redis get %s: %w", t, err)
	}
	var r models.ClassificationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return models.ClassificationResult{}, false, fmt.Errorf("decode cached classification %s: %w", t, err)
	}
	return r, true, nil
}

func (c *RedisCache) Set(ctx context.Context, r models.ClassificationResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}
	if err := c.client.Set(ctx, c.key(r.Ticker), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.Ticker, err)
	}
	return nil
}

// Clear deletes every key under the prefix, scanning in batches.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
