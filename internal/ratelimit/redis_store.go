package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript is Apply expressed in Lua so the whole
// check-and-increment runs atomically inside Redis.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local max_attempts = tonumber(ARGV[2])
	local window_ms = tonumber(ARGV[3])
	local ttl_ms = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'attempts', 'window_start_ms', 'blocked_until_ms')
	local attempts = tonumber(state[1])
	local window_start = tonumber(state[2])
	local blocked_until = tonumber(state[3]) or 0

	if attempts == nil or window_start == nil then
		redis.call('HSET', key, 'attempts', 1, 'window_start_ms', now_ms, 'blocked_until_ms', 0)
		redis.call('PEXPIRE', key, ttl_ms)
		return {1, 0}
	end

	if blocked_until > now_ms then
		return {0, math.ceil((blocked_until - now_ms) / 1000)}
	end

	if now_ms >= window_start + window_ms then
		redis.call('HSET', key, 'attempts', 1, 'window_start_ms', now_ms, 'blocked_until_ms', 0)
		redis.call('PEXPIRE', key, ttl_ms)
		return {1, 0}
	end

	if attempts + 1 <= max_attempts then
		redis.call('HINCRBY', key, 'attempts', 1)
		return {1, 0}
	end

	local window_end = window_start + window_ms
	redis.call('HSET', key, 'attempts', attempts + 1, 'blocked_until_ms', window_end)
	local retry = math.ceil((window_end - now_ms) / 1000)
	if retry < 1 then retry = 1 end
	return {0, retry}
`)

// RedisStore keeps counters in Redis hashes named <prefix>:<type>:<value>.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
}

func NewRedisStore(rdb redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, rule Rule, keyValue string, now time.Time) (Decision, error) {
	key := strings.Join([]string{s.prefix, rule.KeyType, keyValue}, ":")
	args := []interface{}{
		now.UnixMilli(),
		rule.MaxAttempts,
		rule.Window.Milliseconds(),
		(2 * rule.Window).Milliseconds(),
	}
	vals, err := slidingWindowScript.Run(ctx, s.rdb, []string{key}, args...).Result()
	if err != nil {
		return Decision{}, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %#v", vals)
	}
	d := Decision{Allowed: asInt64(arr[0]) == 1, RetryAfter: int(asInt64(arr[1]))}
	if !d.Allowed && d.RetryAfter < 1 {
		d.RetryAfter = 1
	}
	return d, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
