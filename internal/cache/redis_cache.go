package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func sentKey(messageID string) string {
	return "msg:" + messageID
}

func (c *RedisCache) StoreSent(ctx context.Context, messageID string, providerMessageID string, sentAt time.Time) error {
	b, err := json.Marshal(SentRecord{
		ProviderMessageID: providerMessageID,
		SentAt:            sentAt.UTC(),
	})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(messageID), b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, messageID string) (SentRecord, bool, error) {
	b, err := c.rdb.Get(ctx, sentKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SentRecord{}, false, nil
	}
	if err != nil {
		return SentRecord{}, false, err
	}

	var rec SentRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return SentRecord{}, false, err
	}
	return rec, true, nil
}
