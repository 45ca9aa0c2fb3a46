// Package store provides a high-level interface for lock record storage with
// publish/subscribe and unified error handling. It serves as an abstraction
// layer over the lower-level db.LockDB implementations, adding the clock that
// drives lease expiry, the wake-up channels and standardized error reporting.
//
// The package focuses on:
//   - A unified interface (IStore) for lock operations across different backends
//   - Pluggable storage backend architecture through the DBFactory pattern
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining the atomic lock operations
//     (Acquire, Release, Delete, Exists, IsMember, HoldCount, Renew) and the
//     subscription primitives (Sequence, Watch). All implementations share this
//     interface, so the lock gateways work against any backend.
//
//   - Hub: The publish/subscribe mechanism. Release publishes on the wake-up channel
//     of a lock when the last hold ends. Subscribers read the channel sequence and
//     wait for it to grow; a message published after the read is never missed.
//
//   - Error System: A structured error reporting mechanism using typed return codes
//     and descriptive messages.
//
//   - DBFactory: A function type that abstracts the creation of the underlying
//     db.LockDB instances.
//
// Implementations:
//
//	The package includes two implementations of the IStore interface:
//
//	- Local Store (lstore): A non-distributed implementation that directly
//	  uses a db.LockDB instance with the wall clock. This implementation is suitable
//	  for single-node deployments and tests.
//	  Available in the "github.com/ValentinKolb/dLock/lib/store/lstore" package.
//
//	- Distributed Store (dstore): An implementation built on the Dragonboat
//	  RAFT consensus library. Writes carry the clock of the proposing node, so
//	  lease expiry is deterministic on all replicas. Messages are published by
//	  every replica when it applies a release, so subscribers can use any node.
//	  Available in the "github.com/ValentinKolb/dLock/lib/store/dstore" package.
package store
