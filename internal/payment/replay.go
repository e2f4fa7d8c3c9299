package payment

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/mwire-gateway/internal/common"
)

// ReplayGuard remembers notification bodies that were already applied.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayGuard implements ReplayGuard with Redis SETNX semantics.
type RedisReplayGuard struct {
	Client *redis.Client
}

// Acquire claims key for ttl. It reports false when the key is already held.
func (r RedisReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, key, "1", ttl).Result()
}

// Release removes the replay guard key.
func (r RedisReplayGuard) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, key).Err()
}

func replayKey(body []byte) string {
	return "mwire:ipn:" + common.Sha256Hex(body)
}
