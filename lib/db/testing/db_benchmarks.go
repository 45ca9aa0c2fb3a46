package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dLock/lib/db"
)

// RunLockDBBenchmarks runs all benchmarks for a lock database implementation
func RunLockDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("AcquireRelease", func(b *testing.B) {
			benchmarkAcquireRelease(b, factory())
		})

		b.Run("AcquireContended", func(b *testing.B) {
			benchmarkAcquireContended(b, factory())
		})

		b.Run("AcquireWithLease", func(b *testing.B) {
			benchmarkAcquireWithLease(b, factory())
		})

		b.Run("IsMember", func(b *testing.B) {
			benchmarkIsMember(b, factory())
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for an uncontended acquire and release on distinct keys
func benchmarkAcquireRelease(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAcquire|db.FeatureRelease)

	var worker atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := fmt.Sprintf("worker-%d", worker.Add(1))
		key := "lock-" + id
		var now uint64
		for pb.Next() {
			now++
			database.Acquire(key, id, 0, now)
			database.Release(key, id, now)
		}
	})
}

// Benchmark for acquire attempts on a single key
func benchmarkAcquireContended(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAcquire|db.FeatureRelease)

	var worker atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := fmt.Sprintf("worker-%d", worker.Add(1))
		var now uint64
		for pb.Next() {
			now++
			if ok, _ := database.Acquire("lock", id, 0, now); ok {
				database.Release("lock", id, now)
			}
		}
	})
}

// Benchmark for acquire with lease (exercises expiry scheduling)
func benchmarkAcquireWithLease(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAcquire)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		var now uint64
		for pb.Next() {
			now++
			key := fmt.Sprintf("lock-%d", r.Intn(10_000))
			database.Acquire(key, key, 10, now)
		}
	})
}

// Benchmark for membership queries
func benchmarkIsMember(b *testing.B, database db.LockDB) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAcquire|db.FeatureIsMember)

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("lock-%d", i)
		database.Acquire(key, key, 0, 1)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("lock-%d", i%1000)
			database.IsMember(key, key, 1)
			i++
		}
	})
}

// Benchmark for snapshots
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureSave|db.FeatureLoad)

	for i := 0; i < 10_000; i++ {
		key := fmt.Sprintf("lock-%d", i)
		database.Acquire(key, key, int64(i%2)*1000, 1)
	}

	var buf bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf.Reset()
			if err := database.Save(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		restored := factory()
		defer restored.Close()
		data := buf.Bytes()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := restored.Load(bytes.NewReader(data)); err != nil {
				b.Fatal(err)
			}
		}
	})
}
