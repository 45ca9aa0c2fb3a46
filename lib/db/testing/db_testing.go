package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dLock/lib/db"
)

// DBFactory is a function that creates a new instance of a LockDB implementation
type DBFactory func() db.LockDB

// RunLockDBTests runs a comprehensive test suite for a LockDB implementation.
func RunLockDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("AcquireRelease", func(t *testing.T) {
			testAcquireRelease(t, factory())
		})

		t.Run("Reentrancy", func(t *testing.T) {
			testReentrancy(t, factory())
		})

		t.Run("Lease", func(t *testing.T) {
			testLease(t, factory())
		})

		t.Run("Renew", func(t *testing.T) {
			testRenew(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Queries", func(t *testing.T) {
			testQueries(t, factory())
		})

		t.Run("Clock", func(t *testing.T) {
			testClock(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("MutualExclusion", func(t *testing.T) {
			testMutualExclusion(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.LockDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAcquireRelease(t *testing.T, database db.LockDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAcquire|db.FeatureRelease)

	acquired, _ := database.Acquire("lock", "a", 0, 1)
	if !acquired {
		t.Fatal("Expected first acquire to succeed")
	}

	acquired, pttl := database.Acquire("lock", "b", 0, 2)
	if acquired {
		t.Error("Expected acquire by a second identifier to fail")
	}
	if pttl != db.PTTLNoExpiry {
		t.Errorf("Expected pttl %d for a record without lease, got %d", db.PTTLNoExpiry, pttl)
	}

	if count := database.Release("lock", "b", 3); count != -1 {
		t.Errorf("Expected release by non-owner to return -1, got %d", count)
	}
	if count := database.Release("lock", "a", 4); count != 0 {
		t.Errorf("Expected last release to return 0, got %d", count)
	}
	if count := database.Release("lock", "a", 5); count != -1 {
		t.Errorf("Expected release of a deleted record to return -1, got %d", count)
	}

	acquired, _ = database.Acquire("lock", "b", 0, 6)
	if !acquired {
		t.Error("Expected acquire after release to succeed")
	}
}

func testReentrancy(t *testing.T, database db.LockDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAcquire|db.FeatureRelease|db.FeatureHoldCount)

	for i := 1; i <= 3; i++ {
		if acquired, _ := database.Acquire("lock", "a", 0, uint64(i)); !acquired {
			t.Fatalf("Expected acquire %d to succeed", i)
		}
		if count, ok := database.HoldCount("lock", "a", uint64(i)); !ok || count != int64(i) {
			t.Errorf("HoldCount() = %d, %v, want %d, true", count, ok, i)
		}
	}

	for want := int64(2); want >= 0; want-- {
		if count := database.Release("lock", "a", 10); count != want {
			t.Errorf("Release() = %d, want %d", count, want)
		}
	}

	if database.Exists("lock", 11) {
		t.Error("Expected record to be deleted after the last release")
	}
}

func testLease(t *testing.T, database db.LockDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAcquire|db.FeatureExists)

	if acquired, _ := database.Acquire("lock", "a", 100, 1000); !acquired {
		t.Fatal("Expected acquire to succeed")
	}

	acquired, pttl := database.Acquire("lock", "b", 0, 1040)
	if acquired {
		t.Error("Expected acquire by b to fail while the lease is valid")
	}
	if pttl != 60 {
		t.Errorf("Expected pttl 60, got %d", pttl)
	}

	if !database.Exists("lock", 1099) {
		t.Error("Expected record to exist before the lease ends")
	}
	if database.Exists("lock", 1100) {
		t.Error("Expected record to be expired at the end of the lease")
	}
	if pttl := database.PTTL("lock", 1100); pttl != db.PTTLMissing {
		t.Errorf("Expected pttl %d for an expired record, got %d", db.PTTLMissing, pttl)
	}

	// an expired record does not block
	if acquired, _ := database.Acquire("lock", "b", 0, 1101); !acquired {
		t.Error("Expected acquire after expiry to succeed")
	}
	if count, ok := database.HoldCount("lock", "b", 1102); !ok || count != 1 {
		t.Errorf("Expected a fresh hold count of 1, got %d, %v", count, ok)
	}

	// a reentrant acquire without lease keeps the expiry, with lease resets it
	database.Acquire("lease", "a", 100, 2000)
	database.Acquire("lease", "a", 0, 2050)
	if pttl := database.PTTL("lease", 2050); pttl != 50 {
		t.Errorf("Expected pttl 50 after reentrant acquire without lease, got %d", pttl)
	}
	database.Acquire("lease", "a", 500, 2060)
	if pttl := database.PTTL("lease", 2060); pttl != 500 {
		t.Errorf("Expected pttl 500 after reentrant acquire with lease, got %d", pttl)
	}
}

func testRenew(t *testing.T, database db.LockDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAcquire|db.FeatureRenew)

	database.Acquire("lock", "a", 100, 1000)

	if database.Renew("lock", "b", 1000, 1010) {
		t.Error("Expected renew by non-owner to fail")
	}
	if !database.Renew("lock", "a", 1000, 1050) {
		t.Error("Expected renew by owner to succeed")
	}
	if !database.Exists("lock", 1500) {
		t.Error("Expected renewed record to exist after the original lease")
	}
	if database.Renew("lock", "a", 1000, 2100) {
		t.Error("Expected renew of an expired record to fail")
	}
	if database.Renew("missing", "a", 1000, 2200) {
		t.Error("Expected renew of a missing record to fail")
	}
}

func testDelete(t *testing.T, database db.LockDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAcquire|db.FeatureDelete)

	database.Acquire("lock", "a", 0, 1)
	database.Acquire("lock", "a", 0, 2)

	if !database.Delete("lock", 3) {
		t.Error("Expected delete of an existing record to return true")
	}
	if database.Delete("lock", 4) {
		t.Error("Expected delete of a missing record to return false")
	}
	if acquired, _ := database.Acquire("lock", "b", 0, 5); !acquired {
		t.Error("Expected acquire after delete to succeed")
	}
}

func testQueries(t *testing.T, database db.LockDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAcquire|db.FeatureExists|db.FeatureIsMember|db.FeatureHoldCount)

	tests := []struct {
		name string
		fn   func() bool
		want bool
	}{
		{"Exists before acquire", func() bool { return database.Exists("lock", 1) }, false},
		{"IsMember before acquire", func() bool { return database.IsMember("lock", "a", 1) }, false},
		{"HoldCount before acquire", func() bool { _, ok := database.HoldCount("lock", "a", 1); return ok }, false},
		{"Acquire", func() bool { ok, _ := database.Acquire("lock", "a", 0, 2); return ok }, true},
		{"Exists after acquire", func() bool { return database.Exists("lock", 3) }, true},
		{"IsMember owner", func() bool { return database.IsMember("lock", "a", 3) }, true},
		{"IsMember other", func() bool { return database.IsMember("lock", "b", 3) }, false},
		{"HoldCount other", func() bool { _, ok := database.HoldCount("lock", "b", 3); return ok }, false},
	}

	for _, tt := range tests {
		if got := tt.fn(); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func testClock(t *testing.T, database db.LockDB) {
	defer database.Close()

	database.SetClock(1000)
	database.SetClock(500)
	if clock := database.Clock(); clock != 1000 {
		t.Errorf("Expected clock to stay at 1000, got %d", clock)
	}

	// writes with an older clock are evaluated at the database clock
	database.Acquire("lock", "a", 100, 10)
	if !database.Exists("lock", 1099) {
		t.Error("Expected lease to be relative to the database clock")
	}
	if database.Exists("lock", 1100) {
		t.Error("Expected record to be expired at clock 1100")
	}

	// reads do not advance the clock
	database.Exists("lock", 5000)
	if clock := database.Clock(); clock != 1000 {
		t.Errorf("Expected reads to keep the clock at 1000, got %d", clock)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	defer database.Close()
	requireFeature(t, database, db.FeatureSave|db.FeatureLoad)

	for i := 0; i < 100; i++ {
		lease := int64(0)
		if i%2 == 0 {
			lease = 1000
		}
		database.Acquire(fmt.Sprintf("lock-%d", i), fmt.Sprintf("owner-%d", i), lease, 1000)
	}
	database.Acquire("lock-0", "owner-0", 0, 1000)
	database.Acquire("expired", "owner", 10, 1000)
	database.SetClock(1500)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := factory()
	defer restored.Close()
	if err := restored.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if clock := restored.Clock(); clock != 1500 {
		t.Errorf("Expected restored clock 1500, got %d", clock)
	}
	for i := 0; i < 100; i++ {
		key, owner := fmt.Sprintf("lock-%d", i), fmt.Sprintf("owner-%d", i)
		if !restored.IsMember(key, owner, 1500) {
			t.Errorf("Expected %s to be held by %s after load", key, owner)
		}
	}
	if count, _ := restored.HoldCount("lock-0", "owner-0", 1500); count != 2 {
		t.Errorf("Expected hold count 2 after load, got %d", count)
	}
	if restored.Exists("expired", 1500) {
		t.Error("Expected expired record not to be restored")
	}
	if restored.Exists("lock-0", 2000) {
		t.Error("Expected restored lease to end at 2000")
	}

	if err := restored.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Error("Expected Load of invalid data to fail")
	}
}

func testMutualExclusion(t *testing.T, database db.LockDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAcquire|db.FeatureRelease)

	const (
		workers    = 8
		iterations = 500
	)

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		clock   atomic.Uint64
		counter int
		errs    atomic.Int32
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < iterations; {
				if ok, _ := database.Acquire("lock", id, 0, clock.Add(1)); !ok {
					continue
				}
				if holders.Add(1) != 1 {
					errs.Add(1)
				}
				counter++
				holders.Add(-1)
				database.Release("lock", id, clock.Add(1))
				i++
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	if errs.Load() != 0 {
		t.Errorf("Detected %d overlapping holders", errs.Load())
	}
	if counter != workers*iterations {
		t.Errorf("Expected counter %d, got %d", workers*iterations, counter)
	}
}
