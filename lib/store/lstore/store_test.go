package lstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple"
	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/ValentinKolb/dLock/lib/store"
	storetesting "github.com/ValentinKolb/dLock/lib/store/testing"
)

func factory() db.LockDB {
	return maple.NewMapleDB(nil)
}

func TestLocalStore(t *testing.T) {
	storetesting.RunIStoreTests(t, "LocalStore", func() store.IStore {
		return NewLocalStore(factory)
	})
}

// TestLeaseFollowsClock tests that leases expire with the store clock
func TestLeaseFollowsClock(t *testing.T) {
	var clock atomic.Uint64
	clock.Store(10_000)
	s := newLocalStore(factory, clock.Load)

	if ok, _, err := s.Acquire("lock", "a", 100); err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v, want true, nil", ok, err)
	}

	clock.Add(40)
	ok, pttl, err := s.Acquire("lock", "b", 0)
	if err != nil || ok {
		t.Fatalf("Acquire() by b = %v, %v, want false, nil", ok, err)
	}
	if pttl != 60 {
		t.Errorf("pttl = %d, want 60", pttl)
	}

	clock.Add(60)
	if ok, _, _ := s.Acquire("lock", "b", 0); !ok {
		t.Error("Expected acquire by b to succeed after the lease ended")
	}
}

// TestDistinctLocksLeaveNoChannels tests that short lived locks do not pile up pub/sub state
func TestDistinctLocksLeaveNoChannels(t *testing.T) {
	s := newLocalStore(factory, util.NowMillis)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 10_000; i++ {
		key := fmt.Sprintf("lock-%d", i)
		if ok, _, err := s.Acquire(key, "a", 0); err != nil || !ok {
			t.Fatalf("Acquire(%s) = %v, %v, want true, nil", key, ok, err)
		}
		_, _ = s.Watch(ctx, "ch:"+key, 0)
		if count, err := s.Release(key, "a", "ch:"+key); err != nil || count != 0 {
			t.Fatalf("Release(%s) = %d, %v, want 0, nil", key, count, err)
		}
	}
	if n := s.hub.Channels(); n != 0 {
		t.Errorf("hub channels = %d, want 0", n)
	}
}
