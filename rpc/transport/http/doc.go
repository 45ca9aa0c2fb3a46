// Package http implements the RPC transport over plain HTTP/1.1.
//
// A request is a POST of the serialized message to /<shardId>, the body of the
// 200 response is the serialized response message. Errors of the store travel
// inside the response message, a status other than 200 means the request did
// not reach a shard (e.g. an invalid shard ID in the path).
//
// The client spreads requests round-robin over the configured endpoints and
// adds http:// to endpoints without a scheme. Only requests whose dial failed
// are retried: a lock request that reached the server may have been applied.
// The http.Client timeout (TimeoutSecond) bounds every request, including the
// long-polling watch requests, which the rpc client keeps well below it.
//
// The server logs every request with its duration when the log level is debug.
// Close shuts the server down and waits up to 5 seconds for requests in flight.
//
// This transport is the easiest to put behind existing HTTP infrastructure
// (proxies, load balancers). tcp and unix are faster since they multiplex
// requests over a few long lived connections.
package http
