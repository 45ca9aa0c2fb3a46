// Package dstore implements a distributed, fault-tolerant lock store using
// the Dragonboat RAFT consensus library. It provides a strongly consistent implementation
// of the store.IStore interface that can operate across multiple nodes.
//
// Architecture:
//
// The dstore implementation consists of three main components:
//
//   - Store Client: Implements the store.IStore interface and communicates with
//     the RAFT cluster. It serializes operations into commands, sends them to the
//     consensus layer, and decodes the results.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine implementation that processes
//     commands and queries on each node. The state machine contains the actual db.LockDB
//     instance and applies operations to it.
//
//   - Hubs: Every shard of a node host has a store.Hub. The state machine publishes
//     on it whenever a release frees a lock, the store client serves Watch and
//     Sequence from it. Since every replica applies every release, a subscriber
//     connected to any node of the cluster is woken up.
//
// Clock:
//
//	Lock leases are evaluated against a millisecond clock. A write carries the
//	wall clock of the proposing node in the command, so every replica applies it
//	with the same clock. The db clock never goes backwards, which keeps replicas
//	deterministic even if the clocks of the nodes differ slightly. Reads are
//	evaluated at the wall clock of the reading node (or the db clock if later)
//	without changing the db.
//
// Write Operations:
//
//	All write operations (Acquire, Release, Delete, Renew) follow this flow:
//
//	1. The operation is serialized into a Command structure
//	2. The Command is proposed to the RAFT cluster via SyncPropose
//	3. Once committed, the command is executed on the state machine on each node (Update method in statemachine.go)
//	4. The result is returned to the client
//
// Read Operations:
//
//	Exists, IsMember and HoldCount use SyncRead (linearizable), GetDBInfo uses
//	StaleRead. When Dragonboat returns ErrSystemBusy, an operation is retried
//	after a short delay, up to 5 times.
//
// Snapshotting and Recovery:
//
//	The state machine creates fuzzy snapshots with the Save method of the db and
//	restores them with Load. The hubs are not part of the snapshot, a subscriber
//	waiting during a restore falls back to its poll interval.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	hubs := dstore.NewHubs()
//	dbFactory := func() db.LockDB { return maple.NewMapleDB(nil) }
//
//	err = nh.StartConcurrentReplica(
//	    clusterMembers,
//	    false,
//	    dstore.CreateStateMachineFactory(dbFactory, hubs),
//	    shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second, hubs)
//
// For scenarios where distributed consensus is not required, consider using the simpler
// and faster lstore package, which provides a single-node not-persistent implementation of the
// same interface.
package dstore
