package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/domain"
)

const (
	keyPrefix = "view:"
	epochKey  = "view-epoch"
	scanBatch = 200
)

var errStaleLoad = errors.New("view invalidated during load")

// ViewCache stores derived views as JSON blobs under their cache key
type ViewCache struct {
	client *redis.Client
	ttl    time.Duration
	flight singleflight.Group
	logger *slog.Logger
}

// NewViewCache connects to Redis and returns a cache with the given entry TTL
func NewViewCache(cfg *config.RedisConfig, ttl time.Duration, logger *slog.Logger) (*ViewCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewViewCacheWithClient(client, ttl, logger), nil
}

// NewViewCacheWithClient wraps an existing client
func NewViewCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ViewCache {
	return &ViewCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *ViewCache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity
func (c *ViewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func redisKey(key domain.Key) string {
	return keyPrefix + key.String()
}

// Get loads the cached blob for key into dst. It reports false on a miss.
func (c *ViewCache) Get(ctx context.Context, key domain.Key, dst any) (bool, error) {
	data, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting %s: %w", key, err)
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key with the cache TTL
func (c *ViewCache) Set(ctx context.Context, key domain.Key, value any) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := c.client.Set(ctx, redisKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// epoch returns the invalidation counter; loads that straddle a change are not stored
func (c *ViewCache) epoch(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, epochKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// setIfCurrent stores value only if no invalidation happened since epoch was read
func (c *ViewCache) setIfCurrent(ctx context.Context, key domain.Key, value any, epoch int64) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, epochKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != epoch {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey(key), data, c.ttl)
			return nil
		})
		return err
	}, epochKey)
}

// Invalidate removes every exact key and every key below it
func (c *ViewCache) Invalidate(ctx context.Context, keys ...domain.Key) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.client.Incr(ctx, epochKey).Err(); err != nil {
		return 0, fmt.Errorf("bumping view epoch: %w", err)
	}

	var removed int64
	for _, key := range keys {
		exact := redisKey(key)
		n, err := c.client.Del(ctx, exact).Result()
		if err != nil {
			return removed, fmt.Errorf("deleting %s: %w", key, err)
		}
		removed += n

		n, err = c.deleteMatching(ctx, exact+":*")
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (c *ViewCache) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("deleting %s: %w", pattern, err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// GetOrLoad returns the cached view for key, loading and storing it on a miss.
// Concurrent misses for one key share a single load. Cache failures are logged
// and fall through to the loader.
func GetOrLoad[T any](ctx context.Context, c *ViewCache, key domain.Key, load func(context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("view cache read failed", "key", key.String(), "error", err)
	}
	if hit {
		return cached, nil
	}

	v, err, _ := c.flight.Do(key.String(), func() (any, error) {
		epoch, epochErr := c.epoch(ctx)
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if epochErr != nil {
			return loaded, nil
		}
		err = c.setIfCurrent(ctx, key, loaded, epoch)
		switch {
		case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
			c.logger.Debug("skipping cache write after invalidation", "key", key.String())
		case err != nil:
			c.logger.Warn("view cache write failed", "key", key.String(), "error", err)
		}
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
