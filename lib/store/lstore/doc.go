// Package lstore implements a local, in-memory, single-node lock store based on the
// store.IStore interface. It is a thin wrapper around any db.LockDB implementation
// that supplies the wall clock to every operation and publishes the wake-up messages
// of released locks on a store.Hub. Locks are not persisted between process restarts.
//
// Implementation Details:
//
//   - Clock: Every operation passes the current time in milliseconds. The db advances
//     its clock on writes, so leases expire with the wall clock.
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.LockDB implementation supports the requested feature. Unsupported operations
//     return a *store.Error with RetCUnsupportedOperation.
//
//   - Publish/Subscribe: A Release that frees the lock publishes on the given channel.
//     Sequence and Watch are served from the same hub.
//
// Usage Example:
//
//	factory := func() db.LockDB { return maple.NewMapleDB(nil) }
//	s := lstore.NewLocalStore(factory)
//
//	acquired, pttl, err := s.Acquire("orders", "orders:instance:caller", 30_000)
//
// For distributed scenarios, consider the dstore package instead, which provides a
// RAFT-based implementation of the same interface.
package lstore
