package ratelimit

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "cloudcode:rl:"

// takeScript refills the bucket at KEYS[1] from the Redis server clock and
// tries to take ARGV[3] tokens. ARGV[1] is the capacity, ARGV[2] the refill
// rate per second. It replies {1|0, whole tokens left}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local want = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = tonumber(t[1]) + tonumber(t[2]) / 1e6

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local level = tonumber(state[1]) or capacity
local since = tonumber(state[2]) or now
level = math.min(capacity, level + math.max(0, now - since) * rate)

local ok = 0
if level >= want then
  level = level - want
  ok = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(level), "ts", tostring(now))
redis.call("EXPIRE", KEYS[1], math.max(60, math.ceil(2 * capacity / rate)))
return {ok, math.floor(level)}
`)

// RedisBackend keeps buckets in Redis so every replica draws from the
// same budget.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	reply, err := takeScript.Run(ctx, b.client, []string{redisKeyPrefix + key}, maxTokens, refillRate, requested).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: malformed reply %v", key, reply)
	}
	ok, _ := reply[0].(int64)
	left, _ := reply[1].(int64)
	return ok == 1, int(left), nil
}
