package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

var _ Allower = (*FixedWindow)(nil)

// FixedWindow counts events in fixed windows using ulule/limiter. It is
// cheaper than the sliding limiter and suits deployments that share one Redis
// across many replicas.
type FixedWindow struct {
	store limiter.Store

	mu       sync.Mutex
	limiters map[string]*limiter.Limiter
}

// NewFixedWindow builds a fixed window limiter on Redis, or on process memory
// when client is nil.
func NewFixedWindow(client *redis.Client, prefix string) (*FixedWindow, error) {
	if prefix == "" {
		prefix = "mwire:ratelimit:fixed"
	}
	var (
		store limiter.Store
		err   error
	)
	if client == nil {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute})
	} else {
		store, err = limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: redis store: %w", err)
		}
	}
	return &FixedWindow{store: store, limiters: make(map[string]*limiter.Limiter)}, nil
}

// Allow implements Allower.
func (f *FixedWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lctx, err := f.limiterFor(window, max).Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}

func (f *FixedWindow) limiterFor(window time.Duration, max int) *limiter.Limiter {
	id := fmt.Sprintf("%d/%s", max, window)
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[id]; ok {
		return l
	}
	l := limiter.New(f.store, limiter.Rate{Period: window, Limit: int64(max)})
	f.limiters[id] = l
	return l
}
