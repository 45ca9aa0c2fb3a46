// Package gateway holds what the store gateways of dLock share: the logger
// and the subscription state embedded by every lock.ISubscription.
//
// The gateways themselves live in the sub packages:
//
//   - storegw: dLock stores (store.IStore), local, raft or remote via rpc
//   - redisgw: Redis with github.com/redis/go-redis/v9
//   - rueidisgw: Redis with github.com/redis/rueidis
package gateway
