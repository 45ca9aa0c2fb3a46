// Package redisgw implements lock.IStoreGateway for Redis using go-redis.
//
// Scripts run through redis.Script (EVALSHA with EVAL fallback). Every
// subscription opens its own PubSub connection.
package redisgw
