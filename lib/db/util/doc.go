// Package util provides utility components for
// database implementations that satisfy the db.LockDB interface.
//
// The package contains:
//   - functions: Seed generation, the millisecond clock and hash functions for sharding
//   - mapheap: A generic priority queue with key-based access, used to schedule expiry
package util
