package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// counters live a bit longer than their minute so a late INCR still gets a TTL
const courierWindowTTL = 70 * time.Second

// CourierLimiter counts outbound courier calls in fixed one-minute windows shared by all replicas.
type CourierLimiter struct {
	c      redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewCourierLimiter(c redis.UniversalClient, prefix string) *CourierLimiter {
	return &CourierLimiter{c: c, prefix: prefix, now: time.Now}
}

func (l *CourierLimiter) key(courierCode string) string {
	return l.prefix + "rl:courier:" + courierCode + ":" + l.now().UTC().Format("200601021504")
}

// Take counts one call to courierCode in the current minute and reports whether it fits in limit.
// A non-positive limit means unlimited and touches nothing.
func (l *CourierLimiter) Take(ctx context.Context, courierCode string, limit int64) (bool, int64, error) {
	if limit <= 0 {
		return true, 0, nil
	}
	key := l.key(courierCode)

	var incr *redis.IntCmd
	_, err := l.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, courierWindowTTL)
		return nil
	})
	if err != nil {
		return false, 0, errors.Wrapf(err, "rate limit %s", courierCode)
	}
	n := incr.Val()
	return n <= limit, n, nil
}
