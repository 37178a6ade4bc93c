package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/ratelimit"
)

const (
	rateLimitKeyPrefix = "ratelimit:anon:"
	requestKeysSuffix  = ":keys"
)

// The whole read-modify-write runs inside one script so concurrent
// increments for an IP are serialized by redis. KEYS[2] is the hash of
// request keys charged in the current window.
// Returns {count, reset_at_ms, charged}; charged is 2 for a replayed key.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local seen = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local mode = ARGV[4]

local count = tonumber(redis.call('HGET', key, 'count'))
local reset_at = tonumber(redis.call('HGET', key, 'reset_at'))
local live = count ~= nil and reset_at ~= nil and now <= reset_at

if mode == 'status' then
  if not live then
    return {0, 0, 0}
  end
  return {count, reset_at, 0}
end

if not live then
  count = 0
  reset_at = now + window
  redis.call('HSET', key, 'count', 0, 'reset_at', reset_at)
  redis.call('PEXPIRE', key, window)
  redis.call('DEL', seen)
end

if mode == 'once' and redis.call('HEXISTS', seen, ARGV[5]) == 1 then
  return {count, reset_at, 2}
end

local charged = 0
if (mode == 'incr' or mode == 'once') and count < limit then
  count = redis.call('HINCRBY', key, 'count', 1)
  charged = 1
  if mode == 'once' then
    redis.call('HSET', seen, ARGV[5], 1)
    redis.call('PEXPIRE', seen, math.max(reset_at - now, 1))
  end
end
return {count, reset_at, charged}
`)

// RateLimiter is a ratelimit.Store backed by redis hashes.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ ratelimit.Store = (*RateLimiter)(nil)

func (s *Store) RateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = ratelimit.DefaultLimit
	}
	if window <= 0 {
		window = ratelimit.DefaultWindow
	}
	return &RateLimiter{rdb: s.rdb, limit: limit, window: window, now: time.Now}
}

func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.now = now
	return r
}

func (r *RateLimiter) run(ctx context.Context, ip, mode, reqKey string) (count int, resetAt time.Time, charged int64, err error) {
	keys := []string{rateLimitKeyPrefix + ip, rateLimitKeyPrefix + ip + requestKeysSuffix}
	vals, err := rateLimitScript.Run(ctx, r.rdb, keys,
		r.now().UnixMilli(), r.window.Milliseconds(), r.limit, mode, reqKey,
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, 0, common.StorageUnavailable(fmt.Errorf("ratelimit %s ip=%s: %w", mode, ip, err))
	}
	if len(vals) != 3 {
		return 0, time.Time{}, 0, common.StorageUnavailable(fmt.Errorf("ratelimit %s ip=%s: unexpected reply %v", mode, ip, vals))
	}
	if vals[1] > 0 {
		resetAt = time.UnixMilli(vals[1]).UTC()
	}
	return int(vals[0]), resetAt, vals[2], nil
}

func (r *RateLimiter) Check(ctx context.Context, ip string) (ratelimit.Status, error) {
	count, resetAt, _, err := r.run(ctx, ip, "check", "")
	if err != nil {
		return ratelimit.Status{}, err
	}
	return ratelimit.NewStatus(count, r.limit, resetAt), nil
}

func (r *RateLimiter) Increment(ctx context.Context, ip string) (ratelimit.Status, error) {
	count, resetAt, charged, err := r.run(ctx, ip, "incr", "")
	if err != nil {
		return ratelimit.Status{}, err
	}
	st := ratelimit.NewStatus(count, r.limit, resetAt)
	st.Allowed = charged == 1
	return st, nil
}

func (r *RateLimiter) IncrementOnce(ctx context.Context, ip, key string) (ratelimit.Status, bool, error) {
	if key == "" {
		st, err := r.Increment(ctx, ip)
		return st, false, err
	}
	count, resetAt, charged, err := r.run(ctx, ip, "once", key)
	if err != nil {
		return ratelimit.Status{}, false, err
	}
	st := ratelimit.NewStatus(count, r.limit, resetAt)
	st.Allowed = charged > 0
	return st, charged == 2, nil
}

func (r *RateLimiter) Status(ctx context.Context, ip string) (ratelimit.Status, error) {
	count, resetAt, _, err := r.run(ctx, ip, "status", "")
	if err != nil {
		return ratelimit.Status{}, err
	}
	return ratelimit.NewStatus(count, r.limit, resetAt), nil
}

func (r *RateLimiter) Reset(ctx context.Context, ip string) error {
	if err := r.rdb.Del(ctx, rateLimitKeyPrefix+ip, rateLimitKeyPrefix+ip+requestKeysSuffix).Err(); err != nil {
		return common.StorageUnavailable(fmt.Errorf("ratelimit reset ip=%s: %w", ip, err))
	}
	return nil
}
