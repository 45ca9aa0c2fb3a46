// Package client implements the RPC client of dLock. NewRPCStore returns a
// store.IStore that forwards every operation to a shard of an RPC server, so
// the lock gateways can run against a remote store like against a local one.
//
// Key Components:
//
//   - NewRPCStore: Creates a store client for one shard. The client also
//     implements io.Closer, Close closes its transport.
//
//   - NewRPCStoreFactory: Returns a function that creates a store client with
//     its own transport on every call. storegw uses it to give every lock
//     subscription a dedicated connection, so a long-polling watch never
//     delays the lock operations.
//
// Watching:
//
//	Watch long-polls the server with watch requests of at most one second
//	(and at most half the client timeout). It returns as soon as the release
//	sequence of the channel passed the given value, or with ctx.Err() once
//	ctx is done.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//
//	s, err := client.NewRPCStore(100, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatal(err)
//	}
//
//	acquired, pttl, err := s.Acquire("lock:orders", "a1b2:1", 30_000)
//
// Errors:
//
//	Errors of the store on the server side arrive as *store.Error with the
//	original return code. Transport failures are wrapped with the message
//	type and the shard ID.
//
// Thread Safety:
//
//	The store client is safe for concurrent use.
package client
