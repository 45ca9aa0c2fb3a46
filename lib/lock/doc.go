// Package lock provides a distributed, reentrant mutual-exclusion lock on top
// of a key-value store with atomic scripts and publish/subscribe.
//
// The lock state lives in the store as one hash record per lock name, mapping
// the identifier of the holder to its reentrancy count. A lease sets a TTL on
// the record, so a crashed holder eventually loses the lock. Releasing the
// last hold deletes the record and publishes the lock name on the wake-up
// channel of the lock, which wakes the waiters of all processes.
//
// Key Components:
//
//   - IStoreGateway: The narrow interface the lock needs from a store. It
//     evaluates the scripts of the catalogue (see Scripts) and creates channel
//     subscriptions. Adapters for go-redis, rueidis and the dLock store live in
//     lib/gateway.
//
//   - DistributedLock: The public lock object (ILock). Blocking acquisitions
//     retry the store in a loop and wait for wake-ups between attempts. The
//     wait is bounded by the TTL of the current holder, the remaining timeout
//     and Options.MaxWait.
//
//   - Owner: The caller identity. Every call takes a context that carries an
//     Owner (WithOwner). The Owner caches the identifier used for each lock
//     name, so all instances of a lock see the same holder.
//
//   - LocalQueue: A FIFO gate for local contenders plus the wake-up channel.
//     Shared locks of the same name share one queue through a
//     SharedQueueRegistry.
//
//   - ReleaseWatcher: A goroutine holding one subscription to the wake-up
//     channel. It runs only while goroutines compete for the lock.
//
// Usage:
//
//	ctx := lock.WithOwner(context.Background(), lock.NewOwner())
//	l, err := lock.NewSharedLock("orders", gw, nil)
//	if err != nil {
//		return err
//	}
//	defer l.Close()
//
//	if err := l.Lock(ctx); err != nil {
//		return err
//	}
//	defer l.Unlock(ctx)
//
// Fairness only holds among the goroutines of one process that share a queue.
// The lock is as safe as the store: against a single Redis instance it does
// not survive failover.
package lock
