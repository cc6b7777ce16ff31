package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("lock is held by another owner")

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Locker hands out per-name locks so that only one replica runs a scheduled job at a time.
type Locker struct {
	c      redis.UniversalClient
	prefix string
}

func NewLocker(c redis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = "lock:"
	}
	return &Locker{c: c, prefix: prefix}
}

// Lock takes name for ttl. The returned func releases it if still owned.
func (l *Locker) Lock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis setnx")
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		res, err := l.c.Eval(ctx, unlockScript, []string{key}, token).Result()
		if err != nil {
			return errors.Wrap(err, "redis unlock")
		}
		if res == int64(0) {
			return fmt.Errorf("unlock %s: lock expired or taken over", key)
		}
		return nil
	}, nil
}
