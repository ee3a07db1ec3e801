package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ericogr/smarthomepi/pkg/config"
	"github.com/ericogr/smarthomepi/pkg/output"
	"github.com/ericogr/smarthomepi/pkg/sensor"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheOutput keeps the latest reading per room and kind in Redis so
// dashboards can poll without touching the database.
type CacheOutput struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (output.Output, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	logger.Info("Redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return newCacheOutput(client, cfg, logger), nil
}

func newCacheOutput(client *redis.Client, cfg config.RedisConfig, logger *zap.Logger) *CacheOutput {
	return &CacheOutput{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		logger: logger,
	}
}

// Key returns the cache key of the latest reading of kind for roomID.
func (c *CacheOutput) Key(roomID int64, kind sensor.Kind) string {
	return fmt.Sprintf("%sroom:%d:%s", c.prefix, roomID, kind)
}

// Publish writes the cycle's readings in one pipeline.
func (c *CacheOutput) Publish(ctx context.Context, readings []sensor.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range readings {
			b, err := json.Marshal(r)
			if err != nil {
				return err
			}
			pipe.Set(ctx, c.Key(r.Room(), r.Kind()), b, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Latest returns the cached JSON document, or redis.Nil when nothing is cached.
func (c *CacheOutput) Latest(ctx context.Context, roomID int64, kind sensor.Kind) ([]byte, error) {
	return c.client.Get(ctx, c.Key(roomID, kind)).Bytes()
}

// Forget drops every cached reading of roomID.
func (c *CacheOutput) Forget(ctx context.Context, roomID int64) error {
	keys := make([]string, 0, len(sensor.Kinds))
	for _, k := range sensor.Kinds {
		keys = append(keys, c.Key(roomID, k))
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *CacheOutput) Close() error {
	return c.client.Close()
}
