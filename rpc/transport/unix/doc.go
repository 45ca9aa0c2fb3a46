// Package unix implements the Unix domain socket transport of the dLock RPC
// layer for clients on the same machine as the server. Framing, request
// multiplexing and reconnects come from the base package.
//
// The endpoint is the socket path. A stale socket file is removed on Listen.
package unix
