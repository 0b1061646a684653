package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/picflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisCache holds the shared status mirror and the rate limit counters.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connections.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// SetPictureStatus mirrors a status record so it survives a restart of
// the in-memory table.
func (c *RedisCache) SetPictureStatus(ctx context.Context, rec models.ProcessingStatusRecord, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode status record: %w", err)
	}
	return c.client.Set(ctx, PictureStatusKey(rec.PictureID), b, ttl).Err()
}

func (c *RedisCache) GetPictureStatus(ctx context.Context, pictureID int64) (*models.ProcessingStatusRecord, bool, error) {
	val, err := c.client.Get(ctx, PictureStatusKey(pictureID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec models.ProcessingStatusRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, false, fmt.Errorf("decode status record: %w", err)
	}
	return &rec, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
