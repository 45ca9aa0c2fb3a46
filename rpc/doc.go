// Package rpc serves lock stores over the network. A client sees a remote
// shard as a plain store.IStore, so the lock core and the store gateway work
// the same against an in-process store and a dLock server.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, configuration structures and logging.
//
//   - transport: Network communication with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization (Binary, JSON, GOB).
//
//   - client: NewRPCStore, a store.IStore backed by a remote shard.
//
//   - server: The RPC server hosting local (lstore) and raft replicated
//     (dstore) shards.
package rpc
