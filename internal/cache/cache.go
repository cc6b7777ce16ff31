package cache

import (
	"context"
	"time"
)

// BytesCache is the small cache surface services depend on; rediscache.RedisCache implements it.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
