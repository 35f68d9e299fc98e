package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
)

// Redis wraps one client shared by the restock cache, the document
// sequencer and the distributed locker.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type RedisRestockCache struct {
	client *redis.Client
}

func (r *Redis) RestockCache() *RedisRestockCache {
	return &RedisRestockCache{client: r.client}
}

func (c *RedisRestockCache) Get(ctx context.Context, key string) (*domain.RestockResponse, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.RestockResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisRestockCache) Set(ctx context.Context, key string, value *domain.RestockResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisRestockCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

const sequenceKeyPrefix = "poos:seq:"

// RedisSequencer hands out counter values with INCR. The key is never
// expired so values keep increasing across years.
type RedisSequencer struct {
	client *redis.Client
}

func (r *Redis) Sequencer() *RedisSequencer {
	return &RedisSequencer{client: r.client}
}

func (s *RedisSequencer) NextValue(ctx context.Context, counter string) (int64, error) {
	return s.client.Incr(ctx, sequenceKeyPrefix+counter).Result()
}

// Seed raises the counter to at least floor, used when switching from the
// database sequencer so numbers never go backwards.
func (s *RedisSequencer) Seed(ctx context.Context, counter string, floor int64) error {
	key := sequenceKeyPrefix + counter
	return seedScript.Run(ctx, s.client, []string{key}, floor).Err()
}

var seedScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call("SET", KEYS[1], floor)
end
return 1
`)
