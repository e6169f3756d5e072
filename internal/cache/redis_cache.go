package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisCache implements Redis-based caching
type redisCache struct {
	client redis.UniversalClient
	prefix string
}

func newRedisCache(client redis.UniversalClient, prefix string) *redisCache {
	return &redisCache{
		client: client,
		prefix: prefix,
	}
}

func (rc *redisCache) key(id string) string {
	return fmt.Sprintf("%s:%s", rc.prefix, id)
}

// getProducts fetches all ids with one MGET. Missing keys are left out.
func (rc *redisCache) getProducts(ctx context.Context, ids []string) (map[string]Entry, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rc.key(id)
	}

	values, err := rc.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("Redis mget error: %w", err)
	}

	out := make(map[string]Entry, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("JSON unmarshal error: %w", err)
		}
		out[ids[i]] = entry
	}
	return out, nil
}

// setProducts writes all entries in one pipeline
func (rc *redisCache) setProducts(ctx context.Context, entries map[string]Entry, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := rc.client.Pipeline()
	for id, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("JSON marshal error: %w", err)
		}
		pipe.Set(ctx, rc.key(id), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redis set error: %w", err)
	}
	return nil
}

func (rc *redisCache) delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rc.key(id)
	}
	if err := rc.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("Redis delete error: %w", err)
	}
	return nil
}

// clear removes every product key under the prefix
func (rc *redisCache) clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := rc.client.Scan(ctx, cursor, rc.prefix+":*", 500).Result()
		if err != nil {
			return fmt.Errorf("Redis scan error: %w", err)
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("Redis delete error: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (rc *redisCache) healthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}
