// Package rueidisgw implements lock.IStoreGateway for Redis using rueidis.
//
// Scripts run through rueidis.Lua. Subscriptions use a dedicated connection
// with pub/sub hooks.
package rueidisgw
