// Package tcp implements the TCP transport of the dLock RPC layer on top of
// the base package, which provides framing, request multiplexing and
// reconnects. This package only dials, listens and applies the socket options
// of common.TCPConf and common.SocketConf (no delay, keep-alive, linger,
// buffer sizes).
//
// The default server request buffer is 64 KB. Lock messages are small, larger
// requests allocate.
package tcp
