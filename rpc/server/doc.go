// Package server implements the RPC server of dLock. A server hosts any number
// of shards, each one a lock store, and routes every request to the store of
// the shard it is addressed to.
//
// Key Components:
//
//   - IRPCServerAdapter: Translates a request Message into calls on a
//     store.IStore and the result back into a response Message.
//
//   - NewIStoreServerAdapter: The adapter for the lock record operations, the
//     release notification operations (seq, watch) and dbInfo. A watch request
//     blocks for at most its TimeoutMs (capped at 30s) and answers with ok=false
//     if the sequence did not advance in time.
//
//   - NewRPCServer: Creates a server with the given transport and serializer.
//     Serve initializes the loggers, the shards and the optional metrics
//     endpoint (GET /metrics on MetricsEndpoint) and then blocks in the
//     transport.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLocalIStore},
//	  },
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//	defer s.Close()
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Shard types, which can be mixed within a single server:
//
//   - ShardTypeLocalIStore ("lstore"): A store in this process, suitable for
//     single node deployments or development.
//
//   - ShardTypeRemoteIStore ("dstore"): A store replicated with raft. The RAFT
//     configuration (RTTMillisecond, SnapshotEntries, CompactionOverhead,
//     DataDir, ReplicaID and ClusterMembers) must be set. All dstore shards of
//     a server share one NodeHost and one dstore.Hubs registry, so releases
//     applied on this node wake the watchers connected to it.
//
// Thread Safety:
//
//	Requests are handled concurrently. Serve must be called only once.
package server
