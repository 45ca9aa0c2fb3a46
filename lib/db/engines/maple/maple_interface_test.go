package maple

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple/internal"
	dbtesting "github.com/ValentinKolb/dLock/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunLockDBTests(t, "MapleDB", func() db.LockDB {
		return NewMapleDB(nil)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunLockDBBenchmarks(b, "MapleDB", func() db.LockDB {
		return NewMapleDB(nil)
	})
}

// TestCollect tests that the collector removes expired records physically
func TestCollect(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 4, GCInterval: time.Hour}).(*mapleImpl)
	defer database.Close()

	database.Acquire("a", "id-a", 100, 1000)
	database.Acquire("b", "id-b", 500, 1000)
	database.Acquire("c", "id-c", 0, 1000)

	if n := database.collect(); n != 0 {
		t.Errorf("collect() before expiry = %d, want 0", n)
	}

	database.SetClock(1200)
	if n := database.collect(); n != 1 {
		t.Errorf("collect() = %d, want 1", n)
	}
	if _, ok := database.shard("a").Data.Load("a"); ok {
		t.Error("expired record a should be removed")
	}

	// a renewal moves the expiry, the collector keeps the record
	database.Renew("b", "id-b", 1000, 1300)
	database.SetClock(1600)
	if n := database.collect(); n != 0 {
		t.Errorf("collect() after renewal = %d, want 0", n)
	}
	if !database.Exists("b", 1600) {
		t.Error("renewed record b should exist")
	}

	database.SetClock(2400)
	if n := database.collect(); n != 1 {
		t.Errorf("collect() = %d, want 1", n)
	}
	if !database.Exists("c", 2400) {
		t.Error("record c without expiry should exist")
	}
}

// TestShardScheduling tests that removing a record unschedules it
func TestShardScheduling(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 1, GCInterval: time.Hour}).(*mapleImpl)
	defer database.Close()

	database.Acquire("k", "id", 100, 1)
	if got := database.shards[0].Scheduled(); got != 1 {
		t.Fatalf("Scheduled() = %d, want 1", got)
	}
	database.Release("k", "id", 2)
	if got := database.shards[0].Scheduled(); got != 0 {
		t.Errorf("Scheduled() after release = %d, want 0", got)
	}
}

// TestSchedulingUnderContention tests that every leased record stays scheduled
// while acquisitions and releases of the same keys interleave
func TestSchedulingUnderContention(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 2, GCInterval: time.Hour}).(*mapleImpl)
	defer database.Close()

	const (
		workers    = 8
		iterations = 2000
	)
	keys := []string{"k0", "k1", "k2"}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				key := keys[i%len(keys)]
				if ok, _ := database.Acquire(key, id, 1_000_000, 1000); ok {
					database.Release(key, id, 1000)
				}
			}
			// the first worker to get here leaves a leased record behind
			database.Acquire("k2", id, 1_000_000, 1000)
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	for i, shard := range database.shards {
		leased := 0
		shard.Data.Range(func(_ string, rec internal.Record) bool {
			if rec.ExpireAt != 0 {
				leased++
			}
			return true
		})
		if got := shard.Scheduled(); got != leased {
			t.Errorf("shard %d: Scheduled() = %d, want %d leased records", i, got, leased)
		}
	}

	database.SetClock(2_000_000)
	database.collect()
	for _, key := range keys {
		if _, ok := database.shard(key).Data.Load(key); ok {
			t.Errorf("expired record %s was not collected", key)
		}
	}
}
