// Package base implements the stream transports (TCP, Unix sockets) of the
// dLock RPC layer independent of the concrete network. Protocol specific
// parts are injected through IClientConnector and IServerConnector.
//
// Wire format: every request and response is one frame
//
//	shardID (8 bytes) | requestID (8 bytes) | length (4 bytes) | payload
//
// The client multiplexes concurrent requests over a connection and correlates
// responses by requestID. Connections are used round robin, a broken
// connection fails its pending requests and reconnects in the background.
//
// Retries: a request is only retried if it never left the client (no
// connection, failed write). Once written the server may have applied it, and
// lock operations such as a reentrant acquire are not idempotent.
//
// Server: one goroutine per connection reads frames and hands each request to
// a worker, at most WorkersPerConn per connection. Request buffers are pooled.
// Slow requests such as a long-polling watch do not block other requests of
// the same connection.
package base
