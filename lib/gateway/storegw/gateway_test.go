package storegw

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple"
	gwtesting "github.com/ValentinKolb/dLock/lib/gateway/testing"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalStore() store.IStore {
	return lstore.NewLocalStore(func() db.LockDB { return maple.NewMapleDB(nil) })
}

func TestGateway(t *testing.T) {
	gwtesting.RunGatewayTests(t, "LocalStore", func(t *testing.T) gwtesting.Env {
		return gwtesting.Env{
			Gateway: NewGateway(newLocalStore(), nil),
			Advance: time.Sleep,
		}
	})
}

// TestSubscriptionFactory tests that a subscription uses a store of the factory
func TestSubscriptionFactory(t *testing.T) {
	s := newLocalStore()
	created := 0
	gw := NewGateway(s, func() (store.IStore, error) {
		created++
		return s, nil
	})

	sub, err := gw.Subscription(lock.ChannelName("factory"), func(string) {})
	require.NoError(t, err)
	assert.Equal(t, 0, created, "the store must be created on subscribe")

	done := make(chan error, 1)
	go func() { done <- sub.Subscribe() }()
	require.Eventually(t, sub.IsSubscribed, time.Second, time.Millisecond)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, <-done)
	require.NoError(t, sub.Close())
	assert.Equal(t, 1, created)
}

// TestUnknownScript tests that scripts outside the catalogue are rejected
func TestUnknownScript(t *testing.T) {
	gw := NewGateway(newLocalStore(), nil)
	_, _, err := gw.Eval(context.Background(), &lock.Script{Name: "custom", Digest: "abc"}, "key")
	assert.Error(t, err)

	_, _, err = gw.Eval(context.Background(), lock.ScriptAcquire, "key", "only-id")
	assert.Error(t, err, "missing lease argument")

	_, _, err = gw.Eval(context.Background(), lock.ScriptAcquire, "key", "id", "soon")
	assert.Error(t, err, "invalid lease argument")
}
