package redisgw

import (
	"context"
	"testing"
	"time"

	gwtesting "github.com/ValentinKolb/dLock/lib/gateway/testing"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestGateway(t *testing.T) (*miniredis.Miniredis, *Gateway) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	return mr, NewGateway(client)
}

func TestGateway(t *testing.T) {
	gwtesting.RunGatewayTests(t, "GoRedis", func(t *testing.T) gwtesting.Env {
		mr, gw := setupTestGateway(t)
		return gwtesting.Env{
			Gateway: gw,
			Advance: mr.FastForward,
		}
	})
}

func TestPreload(t *testing.T) {
	_, gw := setupTestGateway(t)

	require.NoError(t, gw.Preload(context.Background()))
	for _, s := range lock.Scripts() {
		exists, err := gw.client.ScriptExists(context.Background(), s.Digest).Result()
		require.NoError(t, err)
		assert.Equal(t, []bool{true}, exists, "script %s", s.Name)
	}

	res, ok, err := gw.Eval(context.Background(), lock.ScriptAcquire, "preloaded", "a", "0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, lock.ResultAcquired, res)
}

func TestLeaseExpiresWithFastForward(t *testing.T) {
	mr, gw := setupTestGateway(t)
	ctx := lock.WithOwner(context.Background(), lock.NewOwner())

	l, err := lock.NewLock("ff", gw, nil)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.LockTimed(ctx, 10*time.Second))
	assert.True(t, mr.Exists("ff"))
	assert.InDelta(t, 10*time.Second, mr.TTL("ff"), float64(time.Second))

	mr.FastForward(11 * time.Second)
	locked, err := l.IsLocked(ctx)
	require.NoError(t, err)
	assert.False(t, locked, "the lease should have ended")
}

func TestString(t *testing.T) {
	_, gw := setupTestGateway(t)
	l, err := lock.NewLock("named", gw, nil)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "named@go-redis", l.String())
}
