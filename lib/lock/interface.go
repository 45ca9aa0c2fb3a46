package lock

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Store Gateway (implemented by the adapters in lib/gateway and rpc/client)
// --------------------------------------------------------------------------

// IStoreGateway is the narrow interface the lock needs from a key-value store.
type IStoreGateway interface {
	// Eval runs script atomically against key with the positional args.
	// ok is false if the script returned nil. Transport failures are returned as err.
	Eval(ctx context.Context, script *Script, key string, args ...string) (result string, ok bool, err error)

	// Subscription creates an inactive subscription to channel. It must use a
	// connection of its own, never the one used by Eval. onMessage is called
	// for every message in arrival order.
	Subscription(channel string, onMessage func(payload string)) (ISubscription, error)
}

// ISubscription is a channel subscription created by IStoreGateway.Subscription
type ISubscription interface {
	// Subscribe subscribes and blocks until Unsubscribe is called or the
	// subscription fails. After Unsubscribe it returns immediately.
	Subscribe() error
	// Unsubscribe ends a blocking Subscribe call. It may be called from any goroutine.
	Unsubscribe() error
	// IsSubscribed returns whether the subscription is currently established
	IsSubscribed() bool
	// Channel returns the subscribed channel
	Channel() string
	// Close releases the connection of the subscription
	Close() error
}

// --------------------------------------------------------------------------
// Lock Interface
// --------------------------------------------------------------------------

// ILock is a distributed, reentrant lock. Every method needs a context that
// carries an Owner (see WithOwner); the Owner is the holder of the lock.
//
// Acquisition methods that are not interruptible ignore the cancellation of
// ctx (they still respect its values). Interruptible methods return an error
// matching ErrCancelled once ctx is done.
type ILock interface {
	// Name returns the lock name
	Name() string

	// Lock blocks until the lock is acquired. It is not interruptible.
	Lock(ctx context.Context) error
	// LockInterruptibly blocks until the lock is acquired or ctx is done.
	LockInterruptibly(ctx context.Context) error
	// LockTimed blocks until the lock is acquired with the given lease. It is not interruptible.
	LockTimed(ctx context.Context, lease time.Duration) error

	// TryLock makes a single attempt without a lease.
	TryLock(ctx context.Context) (bool, error)
	// TryLockLease makes a single attempt with a lease.
	TryLockLease(ctx context.Context, lease time.Duration) (bool, error)
	// TryLockWait tries to acquire the lock for up to wait. A wait of 0 makes a
	// single attempt, a negative wait blocks without timeout. It is interruptible.
	TryLockWait(ctx context.Context, wait time.Duration) (bool, error)
	// TryLockTimed is TryLockWait with a lease.
	TryLockTimed(ctx context.Context, wait, lease time.Duration) (bool, error)

	// RenewLeaseTime sets a new lease if the lock is held by the caller.
	RenewLeaseTime(ctx context.Context, lease time.Duration) (bool, error)

	// Unlock releases one hold. It returns ErrNotHeld if the caller does not hold the lock.
	Unlock(ctx context.Context) error
	// ReleaseLock releases one hold and returns false if the caller does not hold the lock.
	ReleaseLock(ctx context.Context) (bool, error)
	// ForceUnlock deletes the lock regardless of its holder.
	ForceUnlock(ctx context.Context) (bool, error)

	// IsLocked returns whether anyone holds the lock.
	IsLocked(ctx context.Context) (bool, error)
	// IsHeldLock returns whether the caller holds the lock.
	IsHeldLock(ctx context.Context) (bool, error)
	// HoldCount returns the reentrancy depth of the caller.
	HoldCount(ctx context.Context) (int64, error)

	// CompetitorCount returns the number of local goroutines waiting in the
	// acquisition loop of this lock's queue.
	CompetitorCount() int
	// TTL returns the last lease observed for the lock, -1 for "no expiry".
	TTL() time.Duration

	// Close releases local resources (the shared queue reference). It does not unlock.
	Close() error
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

const (
	defaultMaxWait       = 5 * time.Second
	defaultSpinThreshold = time.Millisecond
)

// Options configures a lock
type Options struct {
	// Fair orders local contenders of the lock through a FIFO gate. Locks
	// created with NewSharedLock are always fair.
	Fair bool
	// MaxWait caps a single wait for a wake-up. Waits without a bound (the
	// holder has no lease and the caller no timeout) use it too.
	MaxWait time.Duration
	// SpinThreshold is the wait below which the loop retries immediately
	// instead of waiting for a wake-up.
	SpinThreshold time.Duration
	// Registry for shared queues (nil = process wide default)
	Registry *SharedQueueRegistry
}

// DefaultOptions returns the default lock options
func DefaultOptions() *Options {
	return &Options{
		Fair:          false,
		MaxWait:       defaultMaxWait,
		SpinThreshold: defaultSpinThreshold,
		Registry:      nil,
	}
}

// normalize fills unset values with defaults
func (o Options) normalize() Options {
	if o.MaxWait <= 0 {
		o.MaxWait = defaultMaxWait
	}
	if o.SpinThreshold < 0 {
		o.SpinThreshold = 0
	}
	if o.Registry == nil {
		o.Registry = defaultRegistry
	}
	return o
}
