// Package transport defines the contract between the RPC layer and the
// network. Requests and responses are opaque byte slices addressed to a shard,
// so every transport works with every serializer.
//
// Key Components:
//
//   - IRPCClientTransport: Client side. Manages connections and sends requests.
//
//   - IRPCServerTransport: Server side. Receives requests and hands them to
//     the registered ServerHandleFunc.
//
// Implementations live in the tcp, unix and http subpackages. tcp and unix
// share the framing and connection handling of the base package.
package transport
