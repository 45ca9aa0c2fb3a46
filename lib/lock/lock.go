package lock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("lock")

// unsubscribedPoll caps the wait while the release watcher is not subscribed yet
const unsubscribedPoll = 10 * time.Millisecond

// DistributedLock implements ILock on top of an IStoreGateway
type DistributedLock struct {
	name          string
	channel       string
	instanceToken string
	gw            IStoreGateway
	opts          Options

	queue    *LocalQueue
	fair     bool
	registry *SharedQueueRegistry // nil for private queues

	ttl    atomic.Int64 // last observed lease in ms (-1 no expiry, -2 vanished)
	closed atomic.Bool
}

var _ ILock = (*DistributedLock)(nil)

// NewLock creates a lock with a private LocalQueue. Local contenders of this
// instance are ordered by a FIFO gate if opts.Fair is set. opts may be nil.
func NewLock(name string, gw IStoreGateway, opts *Options) (*DistributedLock, error) {
	o, err := validate(name, gw, opts)
	if err != nil {
		return nil, err
	}
	l := newDistributedLock(name, gw, o)
	l.queue = NewLocalQueue(name)
	l.fair = o.Fair
	return l, nil
}

// NewSharedLock creates a fair lock that shares its LocalQueue (and with it the
// FIFO gate and the release watcher) with all other shared locks of the same
// name in opts.Registry. The lock must be closed to release the queue.
func NewSharedLock(name string, gw IStoreGateway, opts *Options) (*DistributedLock, error) {
	o, err := validate(name, gw, opts)
	if err != nil {
		return nil, err
	}
	l := newDistributedLock(name, gw, o)
	l.registry = o.Registry
	l.queue = o.Registry.acquire(name)
	l.fair = true
	return l, nil
}

func validate(name string, gw IStoreGateway, opts *Options) (Options, error) {
	if name == "" {
		return Options{}, newError(CodeInvalidArgument, "lock name must not be empty", nil)
	}
	if gw == nil {
		return Options{}, newError(CodeInvalidArgument, "store gateway must not be nil", nil)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return opts.normalize(), nil
}

func newDistributedLock(name string, gw IStoreGateway, o Options) *DistributedLock {
	l := &DistributedLock{
		name:          name,
		channel:       ChannelName(name),
		instanceToken: newInstanceToken(),
		gw:            gw,
		opts:          o,
	}
	l.ttl.Store(ttlNoExpiry)
	return l
}

// --------------------------------------------------------------------------
// Acquisition
// --------------------------------------------------------------------------

// Lock blocks until the lock is acquired
func (l *DistributedLock) Lock(ctx context.Context) error {
	owner, err := ownerOf(ctx)
	if err != nil {
		return err
	}
	_, err = l.spinLock(ctx, owner, 0, false, -1)
	return err
}

// LockInterruptibly blocks until the lock is acquired or ctx is done
func (l *DistributedLock) LockInterruptibly(ctx context.Context) error {
	owner, err := ownerOf(ctx)
	if err != nil {
		return err
	}
	_, err = l.spinLock(ctx, owner, 0, true, -1)
	return err
}

// LockTimed blocks until the lock is acquired with the given lease
func (l *DistributedLock) LockTimed(ctx context.Context, lease time.Duration) error {
	owner, err := ownerOf(ctx)
	if err != nil {
		return err
	}
	leaseMs, err := leaseMillis(lease)
	if err != nil {
		return err
	}
	_, err = l.spinLock(ctx, owner, leaseMs, false, -1)
	return err
}

// TryLock makes a single attempt
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return false, err
	}
	return l.tryAcquire(context.WithoutCancel(ctx), owner, 0)
}

// TryLockLease makes a single attempt with a lease
func (l *DistributedLock) TryLockLease(ctx context.Context, lease time.Duration) (bool, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return false, err
	}
	leaseMs, err := leaseMillis(lease)
	if err != nil {
		return false, err
	}
	return l.tryAcquire(context.WithoutCancel(ctx), owner, leaseMs)
}

// TryLockWait tries to acquire the lock for up to wait
func (l *DistributedLock) TryLockWait(ctx context.Context, wait time.Duration) (bool, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return false, err
	}
	if wait == 0 {
		return l.tryInterruptibly(ctx, owner, 0)
	}
	return l.spinLock(ctx, owner, 0, true, wait)
}

// TryLockTimed tries to acquire the lock with a lease for up to wait
func (l *DistributedLock) TryLockTimed(ctx context.Context, wait, lease time.Duration) (bool, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return false, err
	}
	leaseMs, err := leaseMillis(lease)
	if err != nil {
		return false, err
	}
	if wait == 0 {
		return l.tryInterruptibly(ctx, owner, leaseMs)
	}
	return l.spinLock(ctx, owner, leaseMs, true, wait)
}

// spinLock is the acquisition loop shared by all blocking variants. A
// negative timeout waits forever.
//
// Flow:
//  1. reentrant fast path (the owner has an identifier for the lock)
//  2. pass the FIFO gate (fair locks only)
//  3. retry the store until success, waiting for wake-ups in between
func (l *DistributedLock) spinLock(ctx context.Context, owner *Owner, leaseMs int64, interruptible bool, timeout time.Duration) (acquired bool, err error) {
	start := time.Now()
	defer func() { observeAcquire(start, acquired, err) }()

	if !interruptible {
		ctx = context.WithoutCancel(ctx)
	} else if ctx.Err() != nil {
		return false, cancelled(ctx.Err())
	}

	// 1. reentrant fast path
	if _, held := owner.Identifier(l.name); held {
		if ok, err := l.attempt(ctx, owner, leaseMs, interruptible); err != nil || ok {
			return ok, err
		}
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = start.Add(timeout)
	}

	// 2. local admission
	if l.fair {
		ok, err := l.queue.acquire(ctx, interruptible, timeout)
		if err != nil || !ok {
			return false, err
		}
		defer l.queue.Release()
	}

	// 3. spin
	l.queue.enter()
	defer l.queue.leave()

	for {
		ok, err := l.attempt(ctx, owner, leaseMs, interruptible)
		if err != nil || ok {
			return ok, err
		}

		wait := l.nextWait()
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			wait = min(wait, remaining)
		}

		if wait <= l.opts.SpinThreshold {
			if interruptible && ctx.Err() != nil {
				return false, cancelled(ctx.Err())
			}
			continue
		}

		subscribed, err := l.queue.activateWatcher(l.gw, l.channel)
		if err != nil {
			return false, err
		}
		if !subscribed {
			wait = min(wait, unsubscribedPoll)
		}
		if err := l.queue.Await(ctx, interruptible, wait); err != nil {
			return false, err
		}
	}
}

// tryInterruptibly makes a single attempt unless ctx is already done
func (l *DistributedLock) tryInterruptibly(ctx context.Context, owner *Owner, leaseMs int64) (bool, error) {
	if ctx.Err() != nil {
		return false, cancelled(ctx.Err())
	}
	return l.attempt(ctx, owner, leaseMs, true)
}

// attempt wraps tryAcquire. A store error caused by the end of an
// interruptible ctx is reported as ErrCancelled.
func (l *DistributedLock) attempt(ctx context.Context, owner *Owner, leaseMs int64, interruptible bool) (bool, error) {
	ok, err := l.tryAcquire(ctx, owner, leaseMs)
	if err != nil && interruptible && ctx.Err() != nil {
		return false, cancelled(ctx.Err())
	}
	return ok, err
}

// nextWait derives the wait from the last observed TTL of the holder
func (l *DistributedLock) nextWait() time.Duration {
	switch ttl := l.ttl.Load(); {
	case ttl == ttlVanished:
		return 0
	case ttl < 0:
		return l.opts.MaxWait
	default:
		return min(time.Duration(ttl)*time.Millisecond, l.opts.MaxWait)
	}
}

// --------------------------------------------------------------------------
// Renewal and Release
// --------------------------------------------------------------------------

// RenewLeaseTime sets a new lease if the caller holds the lock
func (l *DistributedLock) RenewLeaseTime(ctx context.Context, lease time.Duration) (bool, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return false, err
	}
	leaseMs, err := leaseMillis(lease)
	if err != nil {
		return false, err
	}
	return l.renew(ctx, owner, leaseMs)
}

// Unlock releases one hold or returns ErrNotHeld
func (l *DistributedLock) Unlock(ctx context.Context) error {
	released, err := l.ReleaseLock(ctx)
	if err != nil {
		return err
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}

// ReleaseLock releases one hold and reports whether the caller held the lock
func (l *DistributedLock) ReleaseLock(ctx context.Context) (bool, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return false, err
	}
	count, err := l.tryRelease(ctx, owner)
	if err != nil {
		return false, err
	}
	if count < 0 {
		releaseNotOwner.Inc()
		return false, nil
	}
	releaseOK.Inc()
	return true, nil
}

// ForceUnlock deletes the lock regardless of the holder
func (l *DistributedLock) ForceUnlock(ctx context.Context) (bool, error) {
	return l.tryDelete(ctx)
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// IsLocked returns whether anyone holds the lock
func (l *DistributedLock) IsLocked(ctx context.Context) (bool, error) {
	return l.exists(ctx)
}

// IsHeldLock returns whether the caller holds the lock
func (l *DistributedLock) IsHeldLock(ctx context.Context) (bool, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return false, err
	}
	return l.isMember(ctx, owner)
}

// HoldCount returns the reentrancy depth of the caller
func (l *DistributedLock) HoldCount(ctx context.Context) (int64, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return 0, err
	}
	return l.holdCount(ctx, owner)
}

// CompetitorCount returns the number of local goroutines in the acquisition loop
func (l *DistributedLock) CompetitorCount() int {
	return l.queue.Competitors()
}

// Name returns the lock name
func (l *DistributedLock) Name() string {
	return l.name
}

// TTL returns the last observed lease, -1 for no expiry
func (l *DistributedLock) TTL() time.Duration {
	switch ttl := l.ttl.Load(); {
	case ttl == ttlVanished:
		return 0
	case ttl < 0:
		return -1
	default:
		return time.Duration(ttl) * time.Millisecond
	}
}

// Queue returns the LocalQueue of the lock
func (l *DistributedLock) Queue() *LocalQueue {
	return l.queue
}

// Close releases the queue of the lock. A held lock stays held.
func (l *DistributedLock) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.registry != nil {
		l.registry.release(l.queue)
	} else {
		l.queue.stopWatcher()
	}
	return nil
}

// String returns name@gateway
func (l *DistributedLock) String() string {
	return fmt.Sprintf("%s@%v", l.name, l.gw)
}
