// Package common provides core data structures and utilities shared across
// the rpc layer of dLock.
//
// Key Components:
//
//   - Message: The single data structure for all RPC communication. It carries
//     the lock record operations (acquire, release, delete, exists, isMember,
//     holdCount, renew), the release notification operations (seq, watch) and
//     dbInfo. Factory functions create the request and response of each type.
//     Errors travel as a message plus a store.RetCode and are turned back into
//     a *store.Error by the client.
//
//   - MessageType: Enumeration of all operation types. Serialized as a string
//     in JSON.
//
//   - ServerConfig: Configuration of a server node: the served shards, RAFT
//     parameters, transport settings and the log level. Provides conversions
//     to the Dragonboat configurations.
//
//   - ClientConfig: Configuration of a client: endpoints, timeouts, retries
//     and socket options.
//
//   - Logger: A dragonboat logger.Factory printing "LEVEL | package | message".
//     InitLoggers installs it and sets one level for Dragonboat and dLock.
package common
