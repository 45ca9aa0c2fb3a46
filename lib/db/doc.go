// Package db provides a standardized interface for lock record databases.
// It defines the LockDB interface that backs the stores of dLock while
// abstracting implementation details.
//
// The package focuses on:
//   - A unified interface for the atomic lock record operations
//   - Feature discovery through capability flags
//   - Standardized persistence operations
//
// Key Components:
//
//   - LockDB Interface: The core interface that all database implementations must satisfy.
//     It provides the write operations (Acquire, Release, Delete, Renew), the query
//     operations (Exists, IsMember, HoldCount, PTTL), metadata retrieval (GetInfo)
//     and persistence operations (Save, Load).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: The DatabaseInfo structure reports the database state,
//     including an estimated size, the implementation type and implementation-specific
//     metadata.
//
// Note on Time:
//   - Every operation takes a clock value in milliseconds. Write operations advance the
//     database clock to that value; the clock only increases monotonically, so a write
//     with an older clock is evaluated at the current clock.
//   - Read operations evaluate expiry at the later of their clock and the database clock
//     but never change the database clock. A replicated state machine can therefore pass
//     the clock of the proposer with every write and stay deterministic, while reads on a
//     single node use the wall clock.
//
// Note on Garbage Collection:
//   - Expired records are removed by a background collector. Until then they are still
//     stored but are never visible through the interface.
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/dLock/lib/db/engines/maple) provides a
// sharded in-memory implementation of the LockDB interface with heap based expiry collection
// and binary persistence.
//
// The testing package (github.com/ValentinKolb/dLock/lib/db/testing) provides
// standardized tests and benchmarks for implementations of db.LockDB.
//   - RunLockDBTests: Runs a standardized test suite to validate implementations
//   - RunLockDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
