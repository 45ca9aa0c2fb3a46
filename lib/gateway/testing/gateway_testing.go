package testing

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Env is the environment of a single gateway test
type Env struct {
	Gateway lock.IStoreGateway
	// Advance lets d pass for the leases of the store
	Advance func(d time.Duration)
}

// EnvFactory creates a fresh environment, it may skip the test
type EnvFactory func(t *testing.T) Env

// RunGatewayTests runs a test suite for an IStoreGateway implementation.
func RunGatewayTests(t *testing.T, name string, factory EnvFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("AcquireRelease", func(t *testing.T) {
			testAcquireRelease(t, factory(t))
		})

		t.Run("Queries", func(t *testing.T) {
			testQueries(t, factory(t))
		})

		t.Run("Lease", func(t *testing.T) {
			testLease(t, factory(t))
		})

		t.Run("Subscription", func(t *testing.T) {
			testSubscription(t, factory(t))
		})

		t.Run("UnsubscribeBeforeSubscribe", func(t *testing.T) {
			testUnsubscribeBeforeSubscribe(t, factory(t))
		})

		t.Run("LockHandOff", func(t *testing.T) {
			testLockHandOff(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func eval(t *testing.T, env Env, script *lock.Script, key string, args ...string) (string, bool) {
	t.Helper()
	res, ok, err := env.Gateway.Eval(context.Background(), script, key, args...)
	require.NoError(t, err, "Eval(%s)", script.Name)
	return res, ok
}

func evalString(t *testing.T, env Env, script *lock.Script, key string, args ...string) string {
	t.Helper()
	res, ok := eval(t, env, script, key, args...)
	require.True(t, ok, "Eval(%s) returned nil", script.Name)
	return res
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAcquireRelease(t *testing.T, env Env) {
	key, channel := "gw-ar", lock.ChannelName("gw-ar")

	assert.Equal(t, lock.ResultAcquired, evalString(t, env, lock.ScriptAcquire, key, "a", "0"))
	assert.Equal(t, lock.ResultAcquired, evalString(t, env, lock.ScriptAcquire, key, "a", "0"))
	assert.Equal(t, "-1", evalString(t, env, lock.ScriptAcquire, key, "b", "0"), "pttl of a lock without lease")

	assert.Equal(t, "2", evalString(t, env, lock.ScriptHoldCount, key, "a"))
	assert.Equal(t, lock.ResultNotOwner, evalString(t, env, lock.ScriptRelease, key, "b", channel))
	assert.Equal(t, "1", evalString(t, env, lock.ScriptRelease, key, "a", channel))
	assert.Equal(t, "0", evalString(t, env, lock.ScriptRelease, key, "a", channel))
	assert.Equal(t, lock.ResultFalse, evalString(t, env, lock.ScriptExists, key))
}

func testQueries(t *testing.T, env Env) {
	key := "gw-q"

	_, ok := eval(t, env, lock.ScriptHoldCount, key, "a")
	assert.False(t, ok, "hold count of a free lock must be nil")

	evalString(t, env, lock.ScriptAcquire, key, "a", "0")
	assert.Equal(t, lock.ResultTrue, evalString(t, env, lock.ScriptExists, key))
	assert.Equal(t, lock.ResultTrue, evalString(t, env, lock.ScriptIsMember, key, "a"))
	assert.Equal(t, lock.ResultFalse, evalString(t, env, lock.ScriptIsMember, key, "b"))

	_, ok = eval(t, env, lock.ScriptHoldCount, key, "b")
	assert.False(t, ok, "hold count of a non-holder must be nil")

	assert.Equal(t, lock.ResultFalse, evalString(t, env, lock.ScriptRenew, key, "b", "60000"))
	assert.Equal(t, lock.ResultTrue, evalString(t, env, lock.ScriptRenew, key, "a", "60000"))

	assert.Equal(t, lock.ResultTrue, evalString(t, env, lock.ScriptDelete, key))
	assert.Equal(t, lock.ResultFalse, evalString(t, env, lock.ScriptDelete, key))
}

func testLease(t *testing.T, env Env) {
	key := "gw-lease"

	evalString(t, env, lock.ScriptAcquire, key, "a", "200")
	pttl, err := strconv.ParseInt(evalString(t, env, lock.ScriptAcquire, key, "b", "0"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, pttl, int64(0))
	assert.LessOrEqual(t, pttl, int64(200))

	env.Advance(300 * time.Millisecond)
	assert.Equal(t, lock.ResultAcquired, evalString(t, env, lock.ScriptAcquire, key, "b", "0"))
	assert.Equal(t, lock.ResultFalse, evalString(t, env, lock.ScriptIsMember, key, "a"))
}

func testSubscription(t *testing.T, env Env) {
	key, channel := "gw-sub", lock.ChannelName("gw-sub")

	messages := make(chan string, 8)
	sub, err := env.Gateway.Subscription(channel, func(payload string) {
		messages <- payload
	})
	require.NoError(t, err)
	assert.Equal(t, channel, sub.Channel())
	assert.False(t, sub.IsSubscribed())

	done := make(chan error, 1)
	go func() { done <- sub.Subscribe() }()
	require.Eventually(t, sub.IsSubscribed, 5*time.Second, 5*time.Millisecond)

	evalString(t, env, lock.ScriptAcquire, key, "a", "0")
	evalString(t, env, lock.ScriptAcquire, key, "a", "0")
	evalString(t, env, lock.ScriptRelease, key, "a", channel)
	evalString(t, env, lock.ScriptRelease, key, "a", channel)

	select {
	case payload := <-messages:
		assert.Equal(t, key, payload)
	case <-time.After(5 * time.Second):
		t.Fatal("no message after release")
	}

	require.NoError(t, sub.Unsubscribe())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe did not return after Unsubscribe")
	}
	assert.False(t, sub.IsSubscribed())
	assert.Empty(t, messages, "a partial release must not publish")
	require.NoError(t, sub.Close())
}

func testUnsubscribeBeforeSubscribe(t *testing.T, env Env) {
	sub, err := env.Gateway.Subscription(lock.ChannelName("gw-unsub"), func(string) {})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	done := make(chan error, 1)
	go func() { done <- sub.Subscribe() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Subscribe after Unsubscribe blocked")
	}
	require.NoError(t, sub.Close())
}

func testLockHandOff(t *testing.T, env Env) {
	la, err := lock.NewLock("gw-handoff", env.Gateway, nil)
	require.NoError(t, err)
	defer la.Close()
	lb, err := lock.NewLock("gw-handoff", env.Gateway, nil)
	require.NoError(t, err)
	defer lb.Close()

	ctxA := lock.WithOwner(context.Background(), lock.NewOwner())
	ctxB := lock.WithOwner(context.Background(), lock.NewOwner())

	require.NoError(t, la.Lock(ctxA))

	var wg sync.WaitGroup
	acquired := make(chan time.Time, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lb.Lock(ctxB); err != nil {
			t.Errorf("Lock() failed: %v", err)
			return
		}
		acquired <- time.Now()
	}()

	time.Sleep(100 * time.Millisecond)
	released := time.Now()
	require.NoError(t, la.Unlock(ctxA))
	wg.Wait()

	at := <-acquired
	assert.False(t, at.Before(released), "b acquired before a released")
	assert.Less(t, at.Sub(released), 2*time.Second, "b was not woken up")

	held, err := lb.IsHeldLock(ctxB)
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, lb.Unlock(ctxB))
}
