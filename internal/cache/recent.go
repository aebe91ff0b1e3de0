// Package cache keeps the newest hive readings in Redis so predictions do
// not have to query the record store for their previous row.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/ml"
	"github.com/smukkama/beehive-server/pkg/config"
)

const defaultKey = "hive:readings:recent"

// Connect opens a Redis client and checks it with PING
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RecentCache is a capped Redis sorted set of readings scored by timestamp,
// so late arrivals land in the same order the record store returns.
type RecentCache struct {
	redis *redis.Client
	key   string
	size  int
}

// NewRecentCache creates a cache holding at most size readings
func NewRecentCache(client *redis.Client, size int) *RecentCache {
	if size <= 0 {
		size = ml.LongWindow
	}
	return &RecentCache{redis: client, key: defaultKey, size: size}
}

// Size returns the cache capacity
func (c *RecentCache) Size() int {
	return c.size
}

func member(r hive.SensorReading) (redis.Z, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return redis.Z{}, fmt.Errorf("failed to marshal reading: %w", err)
	}
	return redis.Z{Score: float64(r.Timestamp.UnixMilli()), Member: data}, nil
}

// Push adds a reading and drops the oldest ones beyond capacity
func (c *RecentCache) Push(ctx context.Context, r hive.SensorReading) error {
	z, err := member(r)
	if err != nil {
		return err
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, c.key, z)
		pipe.ZRemRangeByRank(ctx, c.key, 0, -int64(c.size)-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push reading to Redis: %w", err)
	}
	return nil
}

// Warm replaces the cached readings, given oldest first
func (c *RecentCache) Warm(ctx context.Context, readings []hive.SensorReading) error {
	if len(readings) > c.size {
		readings = readings[len(readings)-c.size:]
	}

	members := make([]redis.Z, len(readings))
	for i, r := range readings {
		z, err := member(r)
		if err != nil {
			return err
		}
		members[i] = z
	}

	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, c.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to warm Redis cache: %w", err)
	}
	return nil
}

// Recent returns up to n cached readings in ascending order
func (c *RecentCache) Recent(ctx context.Context, n int) ([]hive.SensorReading, error) {
	if n <= 0 {
		return nil, nil
	}

	items, err := c.redis.ZRange(ctx, c.key, -int64(n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent readings from Redis: %w", err)
	}

	readings := make([]hive.SensorReading, 0, len(items))
	for _, item := range items {
		var r hive.SensorReading
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// Reader is the read side of the recent-readings cache
type Reader interface {
	Recent(ctx context.Context, n int) ([]hive.SensorReading, error)
}

// CachedHistory serves Recent from the cache when it holds enough readings
// and from the record store otherwise.
type CachedHistory struct {
	cache Reader
	store ml.RecentSource
	log   logrus.FieldLogger
}

// NewCachedHistory wraps a record store with a recent-readings cache
func NewCachedHistory(cache Reader, store ml.RecentSource, log logrus.FieldLogger) *CachedHistory {
	return &CachedHistory{cache: cache, store: store, log: log.WithField("component", "recent-cache")}
}

// Recent returns the newest n readings in ascending order
func (h *CachedHistory) Recent(ctx context.Context, n int) ([]hive.SensorReading, error) {
	readings, err := h.cache.Recent(ctx, n)
	if err != nil {
		h.log.WithError(err).Warn("Cache read failed, falling back to record store")
		return h.store.Recent(ctx, n)
	}
	if len(readings) < n {
		// a short list is either a cold cache or a short history
		return h.store.Recent(ctx, n)
	}
	return readings, nil
}
