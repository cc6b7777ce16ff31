package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr(), "", 0), "couriersync:")

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "shipment:current:LE123", []byte(`{"status":"in_transit"}`), time.Minute))
	require.True(t, mr.Exists("couriersync:shipment:current:LE123"))

	b, ok, err := c.Get(ctx, "shipment:current:LE123")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"status":"in_transit"}`, string(b))

	require.NoError(t, c.Del(ctx, "shipment:current:LE123"))
	_, ok, err = c.Get(ctx, "shipment:current:LE123")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Del(ctx))
}

func TestRedisCache_SetExpiresAndRejectsNoTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr(), "", 0), "")
	ctx := context.Background()

	require.Error(t, c.Set(ctx, "settings:current", []byte("{}"), 0))
	require.False(t, mr.Exists("settings:current"))

	require.NoError(t, c.Set(ctx, "settings:current", []byte("{}"), time.Minute))
	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "settings:current")
	require.NoError(t, err)
	require.False(t, ok)

	mr.Close()
	_, _, err = c.Get(ctx, "settings:current")
	require.ErrorContains(t, err, "redis get settings:current")
}

func TestCourierLimiter_Take(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewCourierLimiter(NewClient(mr.Addr(), "", 0), "couriersync:")
	minute := time.Date(2026, 5, 4, 12, 30, 10, 0, time.UTC)
	l.now = func() time.Time { return minute }

	ctx := context.Background()
	ok, n, err := l.Take(ctx, "leopards", 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = l.Take(ctx, "leopards", 2)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = l.Take(ctx, "leopards", 2)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// другой курьер считается отдельно
	ok, _, _ = l.Take(ctx, "postex", 2)
	require.True(t, ok)

	key := "couriersync:rl:courier:leopards:202605041230"
	require.True(t, mr.Exists(key))
	require.Equal(t, courierWindowTTL, mr.TTL(key))

	minute = minute.Add(time.Minute)
	ok, n, _ = l.Take(ctx, "leopards", 2)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestCourierLimiter_UnlimitedAndDown(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewCourierLimiter(NewClient(mr.Addr(), "", 0), "")

	ok, n, err := l.Take(context.Background(), "tcs", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, n)
	require.Empty(t, mr.Keys())

	mr.Close()
	_, _, err = l.Take(context.Background(), "tcs", 5)
	require.ErrorContains(t, err, "rate limit tcs")
}

func TestLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLocker(NewClient(mr.Addr(), "", 0), "job:")
	ctx := context.Background()

	release, err := l.Lock(ctx, "tracking-sync", time.Minute)
	require.NoError(t, err)

	_, err = l.Lock(ctx, "tracking-sync", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	require.Error(t, release(ctx))

	release2, err := l.Lock(ctx, "tracking-sync", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}
