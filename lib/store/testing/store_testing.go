package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
)

// StoreFactory is a function that creates a new instance of an IStore implementation.
// The returned stores may share state, every test uses keys of its own.
type StoreFactory func() store.IStore

// RunIStoreTests runs a test suite for an IStore implementation.
func RunIStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("AcquireRelease", func(t *testing.T) {
			testAcquireRelease(t, factory())
		})

		t.Run("Reentrancy", func(t *testing.T) {
			testReentrancy(t, factory())
		})

		t.Run("Queries", func(t *testing.T) {
			testQueries(t, factory())
		})

		t.Run("DeleteRenew", func(t *testing.T) {
			testDeleteRenew(t, factory())
		})

		t.Run("Lease", func(t *testing.T) {
			testLease(t, factory())
		})

		t.Run("PublishOnRelease", func(t *testing.T) {
			testPublishOnRelease(t, factory())
		})

		t.Run("Watch", func(t *testing.T) {
			testWatch(t, factory())
		})

		t.Run("MutualExclusion", func(t *testing.T) {
			testMutualExclusion(t, factory())
		})

		t.Run("DBInfo", func(t *testing.T) {
			testDBInfo(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// must returns a function that fails the test on a non-nil error and returns
// the value otherwise. Use it as must[int64](t)(s.Release(...)).
func must[T any](t *testing.T) func(T, error) T {
	t.Helper()
	return func(v T, err error) T {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return v
	}
}

func acquire(t *testing.T, s store.IStore, key, id string, leaseMs int64) (bool, int64) {
	t.Helper()
	ok, pttl, err := s.Acquire(key, id, leaseMs)
	if err != nil {
		t.Fatalf("Acquire(%s, %s) failed: %v", key, id, err)
	}
	return ok, pttl
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAcquireRelease(t *testing.T, s store.IStore) {
	key, channel := "ar-lock", "ar-channel"

	if ok, _ := acquire(t, s, key, "a", 0); !ok {
		t.Fatal("Expected first acquire to succeed")
	}
	ok, pttl := acquire(t, s, key, "b", 0)
	if ok {
		t.Error("Expected acquire by b to fail")
	}
	if pttl != -1 {
		t.Errorf("Expected pttl -1 for a lock without lease, got %d", pttl)
	}

	if count := must[int64](t)(s.Release(key, "b", channel)); count != -1 {
		t.Errorf("Release() by non-owner = %d, want -1", count)
	}
	if count := must[int64](t)(s.Release(key, "a", channel)); count != 0 {
		t.Errorf("Release() by owner = %d, want 0", count)
	}
	if ok, _ := acquire(t, s, key, "b", 0); !ok {
		t.Error("Expected acquire by b after release to succeed")
	}
	must[int64](t)(s.Release(key, "b", channel))
}

func testReentrancy(t *testing.T, s store.IStore) {
	key, channel := "re-lock", "re-channel"

	for i := int64(1); i <= 3; i++ {
		if ok, _ := acquire(t, s, key, "a", 0); !ok {
			t.Fatalf("Expected acquire %d to succeed", i)
		}
		count, ok, err := s.HoldCount(key, "a")
		if err != nil || !ok || count != i {
			t.Errorf("HoldCount() = %d, %v, %v, want %d, true, nil", count, ok, err, i)
		}
	}
	for want := int64(2); want >= 0; want-- {
		if count := must[int64](t)(s.Release(key, "a", channel)); count != want {
			t.Errorf("Release() = %d, want %d", count, want)
		}
	}
	if must[bool](t)(s.Exists(key)) {
		t.Error("Expected lock to be free after the last release")
	}
}

func testQueries(t *testing.T, s store.IStore) {
	key := "q-lock"

	if must[bool](t)(s.Exists(key)) {
		t.Error("Exists() before acquire = true")
	}
	if _, ok, _ := s.HoldCount(key, "a"); ok {
		t.Error("HoldCount() before acquire should not be ok")
	}

	acquire(t, s, key, "a", 0)
	if !must[bool](t)(s.Exists(key)) {
		t.Error("Exists() after acquire = false")
	}
	if !must[bool](t)(s.IsMember(key, "a")) {
		t.Error("IsMember(a) = false")
	}
	if must[bool](t)(s.IsMember(key, "b")) {
		t.Error("IsMember(b) = true")
	}
	must[bool](t)(s.Delete(key))
}

func testDeleteRenew(t *testing.T, s store.IStore) {
	key := "dr-lock"

	acquire(t, s, key, "a", 60_000)
	if must[bool](t)(s.Renew(key, "b", 60_000)) {
		t.Error("Renew() by non-owner = true")
	}
	if !must[bool](t)(s.Renew(key, "a", 120_000)) {
		t.Error("Renew() by owner = false")
	}
	if _, pttl := acquire(t, s, key, "b", 0); pttl <= 60_000 {
		t.Errorf("Expected pttl > 60000 after renewal, got %d", pttl)
	}

	if !must[bool](t)(s.Delete(key)) {
		t.Error("Delete() of a held lock = false")
	}
	if must[bool](t)(s.Delete(key)) {
		t.Error("Delete() of a free lock = true")
	}
	if must[bool](t)(s.Renew(key, "a", 1000)) {
		t.Error("Renew() of a deleted lock = true")
	}
}

func testLease(t *testing.T, s store.IStore) {
	key := "lease-lock"

	acquire(t, s, key, "a", 100)
	if ok, pttl := acquire(t, s, key, "b", 0); ok || pttl <= 0 || pttl > 100 {
		t.Errorf("Acquire() by b = %v, %d, want false and 0 < pttl <= 100", ok, pttl)
	}

	time.Sleep(200 * time.Millisecond)
	if ok, _ := acquire(t, s, key, "b", 0); !ok {
		t.Error("Expected acquire by b to succeed after the lease ended")
	}
	if must[bool](t)(s.IsMember(key, "a")) {
		t.Error("Expected a to have lost the lock")
	}
	must[bool](t)(s.Delete(key))
}

func testPublishOnRelease(t *testing.T, s store.IStore) {
	key, channel := "pub-lock", "pub-channel"
	start := must[uint64](t)(s.Sequence(channel))

	acquire(t, s, key, "a", 0)
	acquire(t, s, key, "a", 0)

	must[int64](t)(s.Release(key, "a", channel))
	if seq := must[uint64](t)(s.Sequence(channel)); seq != start {
		t.Errorf("Sequence() after a partial release = %d, want %d", seq, start)
	}

	must[int64](t)(s.Release(key, "b", channel))
	if seq := must[uint64](t)(s.Sequence(channel)); seq != start {
		t.Errorf("Sequence() after a release by non-owner = %d, want %d", seq, start)
	}

	must[int64](t)(s.Release(key, "a", channel))
	if seq := must[uint64](t)(s.Sequence(channel)); seq != start+1 {
		t.Errorf("Sequence() after the last release = %d, want %d", seq, start+1)
	}
}

func testWatch(t *testing.T, s store.IStore) {
	key, channel := "watch-lock", "watch-channel"
	start := must[uint64](t)(s.Sequence(channel))

	// a watch without publish ends with the context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	seq, err := s.Watch(ctx, channel, start)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Watch() error = %v, want deadline exceeded", err)
	}
	if seq != start {
		t.Errorf("Watch() = %d, want %d", seq, start)
	}

	// a release wakes a watcher
	acquire(t, s, key, "a", 0)
	done := make(chan uint64, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		seq, _ := s.Watch(ctx, channel, start)
		done <- seq
	}()
	time.Sleep(20 * time.Millisecond)
	must[int64](t)(s.Release(key, "a", channel))

	select {
	case seq := <-done:
		if seq != start+1 {
			t.Errorf("Watch() = %d, want %d", seq, start+1)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after release")
	}
}

func testMutualExclusion(t *testing.T, s store.IStore) {
	const (
		workers    = 4
		iterations = 50
	)
	key, channel := "mx-lock", "mx-channel"

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		counter atomic.Int32
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < iterations; {
				ok, _, err := s.Acquire(key, id, 0)
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				if !ok {
					continue
				}

				if n := holders.Add(1); n != 1 {
					t.Errorf("%s acquired the lock while %d others held it", id, n-1)
				}
				counter.Add(1)
				holders.Add(-1)

				if _, err := s.Release(key, id, channel); err != nil {
					t.Errorf("Release failed: %v", err)
					return
				}
				i++
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	if got := counter.Load(); got != workers*iterations {
		t.Errorf("counter = %d, want %d", got, workers*iterations)
	}
}

func testDBInfo(t *testing.T, s store.IStore) {
	info := must[db.DatabaseInfo](t)(s.GetDBInfo())
	if info.DbType == "" {
		t.Error("Expected a db type in the db info")
	}
}
