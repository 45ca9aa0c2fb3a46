package rueidisgw

import (
	"context"
	"testing"

	gwtesting "github.com/ValentinKolb/dLock/lib/gateway/testing"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestGateway(t *testing.T) (*miniredis.Miniredis, *Gateway) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewClient(mr.Addr())
	if err != nil {
		t.Skipf("rueidis client not available for miniredis: %v", err)
	}
	t.Cleanup(client.Close)

	return mr, NewGateway(client)
}

func TestGateway(t *testing.T) {
	gwtesting.RunGatewayTests(t, "Rueidis", func(t *testing.T) gwtesting.Env {
		mr, gw := setupTestGateway(t)
		return gwtesting.Env{
			Gateway: gw,
			Advance: mr.FastForward,
		}
	})
}

func TestEvalUnknownScript(t *testing.T) {
	_, gw := setupTestGateway(t)

	// scripts outside the catalogue are evaluated from their body
	custom := &lock.Script{Name: "echo", Body: "return ARGV[1]", Digest: "not-in-catalogue"}
	res, ok, err := gw.Eval(context.Background(), custom, "key", "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", res)
}

func TestNilResult(t *testing.T) {
	_, gw := setupTestGateway(t)

	_, ok, err := gw.Eval(context.Background(), lock.ScriptHoldCount, "absent", "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, rueidis.IsRedisNil(err))
}
