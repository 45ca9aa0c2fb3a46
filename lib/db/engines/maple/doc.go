// Package maple implements an in-memory lock record database with sharded
// concurrency control and time-based expiry. It provides a complete
// implementation of the db.LockDB interface.
//
// The package focuses on:
//   - Concurrent access through sharding and the internally sharded xsync.MapOf
//   - Atomic read-modify-write per key, every write runs inside MapOf.Compute
//   - Expiry on a millisecond clock supplied by the caller
//   - Background collection of expired records
//   - Persistent storage with fuzzy snapshots in a compact binary encoding
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.LockDB. It manages
//     shards, coordinates garbage collection and keeps the clock. The clock is not
//     read from the system: every operation carries a clock value and writes advance
//     the database clock monotonically. This lets a raft state machine replay the
//     log with the clocks of the proposers and reach the same state on every replica.
//
//   - Shard: A partition of the key space. Each shard owns a map of records and a
//     heap of scheduled expiries. Keys are assigned to shards by a seeded FNV-1a hash.
//
//   - Record: The state of one lock: the identifier of the holder, its reentrancy
//     count and the clock value at which the record expires (0 = never).
//
// Garbage Collection:
//
//   - Writes that set an expiry schedule the key in the heap of its shard. Writes that
//     remove a record or clear its expiry unschedule it.
//   - A single goroutine pops the due keys of every shard at a fixed interval and
//     removes the records that are still expired. A record that was renewed in the
//     meantime is scheduled again.
//   - Reads never return an expired record, regardless of the collector state.
//
// Persistence Format:
//
//  1. Magic number "DLOCKDB\x00"
//  2. Version number (currently 1)
//  3. Clock at the time of the snapshot
//  4. Number of records
//  5. For each record: key, owner, count, expiry
//
// Strings are written as a 4 byte length followed by the bytes. The snapshot is
// fuzzy, Save does not block concurrent writers.
package maple
