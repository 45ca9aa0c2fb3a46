package lock_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple"
	"github.com/ValentinKolb/dLock/lib/gateway/storegw"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T) lock.IStoreGateway {
	t.Helper()
	s := lstore.NewLocalStore(func() db.LockDB { return maple.NewMapleDB(nil) })
	return storegw.NewGateway(s, nil)
}

func ownerCtx() context.Context {
	return lock.WithOwner(context.Background(), lock.NewOwner())
}

func newLock(t *testing.T, name string, gw lock.IStoreGateway, opts *lock.Options) *lock.DistributedLock {
	t.Helper()
	l, err := lock.NewLock(name, gw, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newSharedLock(t *testing.T, name string, gw lock.IStoreGateway, opts *lock.Options) *lock.DistributedLock {
	t.Helper()
	l, err := lock.NewSharedLock(name, gw, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// --------------------------------------------------------------------------
// Construction and arguments
// --------------------------------------------------------------------------

func TestNewLockValidation(t *testing.T) {
	gw := newGateway(t)

	_, err := lock.NewLock("", gw, nil)
	assert.ErrorIs(t, err, lock.ErrInvalidArgument)

	_, err = lock.NewSharedLock("x", nil, nil)
	assert.ErrorIs(t, err, lock.ErrInvalidArgument)
}

func TestMissingOwner(t *testing.T) {
	l := newLock(t, "no-owner", newGateway(t), nil)
	ctx := context.Background()

	assert.ErrorIs(t, l.Lock(ctx), lock.ErrNoOwner)
	_, err := l.TryLock(ctx)
	assert.ErrorIs(t, err, lock.ErrNoOwner)
	assert.ErrorIs(t, l.Unlock(ctx), lock.ErrNoOwner)
	_, err = l.HoldCount(ctx)
	assert.ErrorIs(t, err, lock.ErrNoOwner)
}

func TestInvalidLease(t *testing.T) {
	l := newLock(t, "bad-lease", newGateway(t), nil)
	ctx := ownerCtx()

	assert.ErrorIs(t, l.LockTimed(ctx, 0), lock.ErrInvalidLease)
	_, err := l.TryLockLease(ctx, -time.Second)
	assert.ErrorIs(t, err, lock.ErrInvalidLease)
	_, err = l.RenewLeaseTime(ctx, 0)
	assert.ErrorIs(t, err, lock.ErrInvalidLease)

	locked, err := l.IsLocked(ctx)
	require.NoError(t, err)
	assert.False(t, locked, "an invalid lease must not acquire")
}

// --------------------------------------------------------------------------
// Core properties
// --------------------------------------------------------------------------

// TestExampleScenario: T1 holds the lock, T2 fails to try-lock until T1 unlocks
func TestExampleScenario(t *testing.T) {
	gw := newGateway(t)
	l := newLock(t, "X", gw, nil)
	t1, t2 := ownerCtx(), ownerCtx()

	require.NoError(t, l.Lock(t1))

	ok, err := l.TryLock(t2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(t1))

	ok, err = l.TryLock(t2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMutualExclusion(t *testing.T) {
	const (
		instances  = 3
		goroutines = 4
		iterations = 25
	)

	for _, shared := range []bool{false, true} {
		t.Run(fmt.Sprintf("shared=%v", shared), func(t *testing.T) {
			gw := newGateway(t)
			registry := lock.NewSharedQueueRegistry()
			opts := &lock.Options{Registry: registry}

			counter := 0 // guarded by the distributed lock
			var wg sync.WaitGroup
			for i := 0; i < instances; i++ {
				var l *lock.DistributedLock
				if shared {
					l = newSharedLock(t, "counter", gw, opts)
				} else {
					l = newLock(t, "counter", gw, opts)
				}
				for g := 0; g < goroutines; g++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ctx := ownerCtx()
						for n := 0; n < iterations; n++ {
							if err := l.Lock(ctx); err != nil {
								t.Errorf("Lock() failed: %v", err)
								return
							}
							counter++
							if err := l.Unlock(ctx); err != nil {
								t.Errorf("Unlock() failed: %v", err)
								return
							}
						}
					}()
				}
			}
			wg.Wait()

			assert.Equal(t, instances*goroutines*iterations, counter)
		})
	}
}

func TestReentrancy(t *testing.T) {
	l := newLock(t, "reentrant", newGateway(t), nil)
	ctx := ownerCtx()

	for i := 1; i <= 3; i++ {
		require.NoError(t, l.Lock(ctx))
		count, err := l.HoldCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
	}

	ok, err := l.TryLockWait(ownerCtx(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "another owner acquired a held lock")

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Unlock(ctx))
	}
	locked, err := l.IsLocked(ctx)
	require.NoError(t, err)
	assert.False(t, locked)

	assert.ErrorIs(t, l.Unlock(ctx), lock.ErrNotHeld)
	count, err := l.HoldCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLease(t *testing.T) {
	gw := newGateway(t)
	l := newLock(t, "lease", gw, nil)
	a, b := ownerCtx(), ownerCtx()

	require.NoError(t, l.LockTimed(a, 150*time.Millisecond))
	assert.Equal(t, 150*time.Millisecond, l.TTL())

	start := time.Now()
	ok, err := l.TryLockWait(b, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "the lease did not end")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	held, err := l.IsHeldLock(a)
	require.NoError(t, err)
	assert.False(t, held, "the expired holder still holds the lock")
	assert.ErrorIs(t, l.Unlock(a), lock.ErrNotHeld)
	require.NoError(t, l.Unlock(b))
}

func TestRenewLeaseTime(t *testing.T) {
	l := newLock(t, "renew", newGateway(t), nil)
	a, b := ownerCtx(), ownerCtx()

	require.NoError(t, l.LockTimed(a, 100*time.Millisecond))

	renewed, err := l.RenewLeaseTime(b, time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed, "renewed by a non-holder")

	renewed, err = l.RenewLeaseTime(a, time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed)
	assert.Equal(t, time.Minute, l.TTL())

	time.Sleep(150 * time.Millisecond)
	held, err := l.IsHeldLock(a)
	require.NoError(t, err)
	assert.True(t, held, "the renewed lease ended")
	require.NoError(t, l.Unlock(a))
}

func TestTimeoutBound(t *testing.T) {
	l := newLock(t, "timeout", newGateway(t), nil)
	require.NoError(t, l.Lock(ownerCtx()))

	const wait = 150 * time.Millisecond
	start := time.Now()
	ok, err := l.TryLockWait(ownerCtx(), wait)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, wait)
	assert.Less(t, elapsed, wait+500*time.Millisecond)
	assert.Equal(t, time.Duration(-1), l.TTL(), "holder without lease")
}

func TestCancellation(t *testing.T) {
	gw := newGateway(t)
	l := newLock(t, "cancel", gw, nil)
	holder := ownerCtx()
	require.NoError(t, l.Lock(holder))

	// interruptible acquisitions return ErrCancelled
	ctx, cancel := context.WithTimeout(ownerCtx(), 50*time.Millisecond)
	defer cancel()
	err := l.LockInterruptibly(ctx)
	assert.ErrorIs(t, err, lock.ErrCancelled)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// a blocked waiter returns promptly after the cancellation
	ictx, icancel := context.WithCancel(ownerCtx())
	defer icancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.LockInterruptibly(ictx) }()
	time.Sleep(30 * time.Millisecond)
	cancelledAt := time.Now()
	icancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, lock.ErrCancelled)
		assert.Less(t, time.Since(cancelledAt), 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("LockInterruptibly() did not return after cancel")
	}

	cctx, ccancel := context.WithCancel(ownerCtx())
	ccancel()
	ok, err := l.TryLockWait(cctx, time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, lock.ErrCancelled)

	// non-interruptible acquisitions ignore the cancellation
	waiter, wcancel := context.WithCancel(ownerCtx())
	wcancel()
	done := make(chan error, 1)
	go func() { done <- l.Lock(waiter) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Unlock(holder))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Lock() did not acquire after release")
	}
	held, err := l.IsHeldLock(waiter)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestCancelledSingleAttempts(t *testing.T) {
	gw := ctxGateway{newGateway(t)}
	l := newLock(t, "cancel-single", gw, nil)

	ctx, cancel := context.WithCancel(ownerCtx())
	cancel()

	// interruptible single attempts give up before the store is asked
	ok, err := l.TryLockWait(ctx, 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, lock.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	ok, err = l.TryLockTimed(ctx, 0, time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, lock.ErrCancelled)
	locked, err := l.IsLocked(ownerCtx())
	require.NoError(t, err)
	assert.False(t, locked)

	// TryLock and TryLockLease are not interruptible
	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.TryLockLease(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := l.HoldCount(context.WithoutCancel(ctx))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCancelledDuringEval(t *testing.T) {
	gw := newGateway(t)
	holder := newLock(t, "cancel-eval", gw, nil)
	require.NoError(t, holder.Lock(ownerCtx()))

	bgw := &blockingGateway{IStoreGateway: gw}
	bgw.block.Store(true)
	l := newLock(t, "cancel-eval", bgw, nil)

	ctx, cancel := context.WithTimeout(ownerCtx(), 50*time.Millisecond)
	defer cancel()
	err := l.LockInterruptibly(ctx)
	assert.ErrorIs(t, err, lock.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx2, cancel2 := context.WithTimeout(ownerCtx(), 50*time.Millisecond)
	defer cancel2()
	ok, err := l.TryLockWait(ctx2, time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, lock.ErrCancelled)

	// without a cancelled ctx a failing store is reported as is
	bgw.block.Store(false)
	bgw.fail.Store(true)
	ok, err = l.TryLockWait(ownerCtx(), 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errUnavailable)
	assert.NotErrorIs(t, err, lock.ErrCancelled)
}

func TestCrossInstanceRelease(t *testing.T) {
	gw := newGateway(t)
	l1 := newLock(t, "cross", gw, nil)
	l2 := newLock(t, "cross", gw, nil)
	a, b := ownerCtx(), ownerCtx()

	require.NoError(t, l1.Lock(a))
	require.NoError(t, l2.Lock(a), "the same owner must re-enter through another instance")

	assert.ErrorIs(t, l2.Unlock(b), lock.ErrNotHeld)
	released, err := l2.ReleaseLock(b)
	require.NoError(t, err)
	assert.False(t, released)

	require.NoError(t, l2.Unlock(a))
	require.NoError(t, l1.Unlock(a))
	locked, err := l1.IsLocked(a)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestAdoptIdentifier(t *testing.T) {
	gw := newGateway(t)
	l := newLock(t, "adopt", gw, nil)

	first := lock.NewOwner()
	require.NoError(t, l.Lock(lock.WithOwner(context.Background(), first)))
	id, ok := first.Identifier("adopt")
	require.True(t, ok)

	// a second process continues the hold with the identifier
	second := lock.NewOwner()
	second.Adopt("adopt", id)
	other := newLock(t, "adopt", gw, nil)
	require.NoError(t, other.Unlock(lock.WithOwner(context.Background(), second)))

	_, ok = second.Identifier("adopt")
	assert.False(t, ok, "the identifier must be forgotten after the last release")
}

func TestForceUnlock(t *testing.T) {
	gw := newGateway(t)
	l := newLock(t, "force", gw, nil)
	holder := ownerCtx()
	require.NoError(t, l.Lock(holder))

	done := make(chan error, 1)
	go func() { done <- l.Lock(ownerCtx()) }()
	require.Eventually(t, func() bool { return l.CompetitorCount() == 1 }, time.Second, time.Millisecond)

	deleted, err := l.ForceUnlock(ownerCtx())
	require.NoError(t, err)
	assert.True(t, deleted)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by ForceUnlock")
	}
	assert.Equal(t, 0, l.CompetitorCount())

	held, err := l.IsHeldLock(holder)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestQueueReclamation(t *testing.T) {
	gw := newGateway(t)
	registry := lock.NewSharedQueueRegistry()
	opts := &lock.Options{Registry: registry}

	var locks []*lock.DistributedLock
	for i := 0; i < 3; i++ {
		for _, name := range []string{"q-a", "q-b"} {
			l, err := lock.NewSharedLock(name, gw, opts)
			require.NoError(t, err)
			locks = append(locks, l)
		}
	}
	assert.Equal(t, 2, registry.Size())
	assert.Equal(t, []string{"q-a", "q-b"}, registry.Names())
	assert.Same(t, locks[0].Queue(), locks[2].Queue())

	// exercise the watchers of the shared queues
	holder := ownerCtx()
	require.NoError(t, locks[0].Lock(holder))
	ok, err := locks[2].TryLockWait(ownerCtx(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, locks[4].Unlock(holder))

	for _, l := range locks {
		require.NoError(t, l.Close())
		require.NoError(t, l.Close())
	}
	assert.Equal(t, 0, registry.Size())
	assert.Empty(t, registry.Names())
}

func TestFairLockOrder(t *testing.T) {
	gw := newGateway(t)
	l := newLock(t, "fair", gw, &lock.Options{Fair: true})
	holder := ownerCtx()
	require.NoError(t, l.Lock(holder))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
		ready atomic.Int32
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := ownerCtx()
			ready.Add(1)
			if err := l.Lock(ctx); err != nil {
				t.Errorf("Lock() failed: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			_ = l.Unlock(ctx)
		}(i)
		// the first waiter spins, the others queue at the gate
		require.Eventually(t, func() bool {
			return ready.Load() == int32(i+1) && l.CompetitorCount() == 1 && l.Queue().Queued() == i
		}, time.Second, time.Millisecond)
	}

	require.NoError(t, l.Unlock(holder))
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestProtocolError(t *testing.T) {
	l := newLock(t, "protocol", garbageGateway{}, nil)
	ctx := ownerCtx()

	_, err := l.TryLock(ctx)
	assert.ErrorIs(t, err, lock.ErrProtocol)
	_, err = l.IsLocked(ctx)
	assert.ErrorIs(t, err, lock.ErrProtocol)

	var lerr *lock.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, lock.CodeProtocol, lerr.Code)
}

func TestTransportErrorIsReturned(t *testing.T) {
	l := newLock(t, "transport", failingGateway{}, nil)

	err := l.Lock(ownerCtx())
	assert.ErrorIs(t, err, errUnavailable)
	assert.NotErrorIs(t, err, lock.ErrProtocol)
}

func TestString(t *testing.T) {
	gw := newGateway(t)
	l := newLock(t, "named", gw, nil)
	assert.Equal(t, "named@"+fmt.Sprint(gw), l.String())
	assert.Equal(t, "named", l.Name())
}

// --------------------------------------------------------------------------
// Misbehaving gateways
// --------------------------------------------------------------------------

// garbageGateway returns results outside the wire contract
type garbageGateway struct{}

func (garbageGateway) Eval(context.Context, *lock.Script, string, ...string) (string, bool, error) {
	return "garbage", true, nil
}

func (garbageGateway) Subscription(string, func(string)) (lock.ISubscription, error) {
	return nil, errors.New("not supported")
}

var errUnavailable = errors.New("store unavailable")

// failingGateway fails every call
type failingGateway struct{}

func (failingGateway) Eval(context.Context, *lock.Script, string, ...string) (string, bool, error) {
	return "", false, errUnavailable
}

func (failingGateway) Subscription(string, func(string)) (lock.ISubscription, error) {
	return nil, errUnavailable
}

// ctxGateway fails calls with a done ctx like a network gateway would
type ctxGateway struct {
	lock.IStoreGateway
}

func (g ctxGateway) Eval(ctx context.Context, script *lock.Script, key string, args ...string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return g.IStoreGateway.Eval(ctx, script, key, args...)
}

// blockingGateway holds Eval until ctx is done while block is set and fails
// every Eval while fail is set
type blockingGateway struct {
	lock.IStoreGateway
	block atomic.Bool
	fail  atomic.Bool
}

func (g *blockingGateway) Eval(ctx context.Context, script *lock.Script, key string, args ...string) (string, bool, error) {
	if g.fail.Load() {
		return "", false, errUnavailable
	}
	if g.block.Load() {
		<-ctx.Done()
		return "", false, ctx.Err()
	}
	return g.IStoreGateway.Eval(ctx, script, key, args...)
}
