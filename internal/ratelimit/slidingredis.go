package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Allower = SlidingWindow{}

// slidingScript trims expired events, admits the new one only while the
// window has room and reports when the oldest admitted event leaves it.
// Scores and the TTL are milliseconds.
var slidingScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local admitted = 0
if count < max then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
	count = count + 1
	admitted = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
local reset = now + window
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {admitted, count, reset}
`)

// SlidingWindow limits events per key over a rolling window kept in a Redis
// sorted set. Only admitted events are stored, so a rejected burst does not
// extend the block.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
}

// Allow implements Allower.
func (s SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	if s.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}

	res, err := slidingScript.Run(ctx, s.Client, []string{s.key(key)},
		now.UnixMilli(), windowMS, max, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: sliding window: %w", err)
	}
	if len(res) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: sliding window: unexpected reply %v", res)
	}
	remaining := max - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return res[0] == 1, remaining, time.UnixMilli(res[2]), nil
}

func (s SlidingWindow) key(key string) string {
	if s.Prefix == "" || strings.HasSuffix(s.Prefix, ":") {
		return s.Prefix + key
	}
	return s.Prefix + ":" + key
}
