package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// wakeupCapacity bounds how many wake-ups can be pending; further signals coalesce
const wakeupCapacity = 64

// LocalQueue coordinates the goroutines of one process that compete for a
// lock name. It combines two independent mechanisms:
//
//   - a FIFO gate that orders acquisition attempts (fair mode only)
//   - a wake-up channel that is signalled when the lock was released
//
// The wake-up channel does not depend on the gate, a release can wake a
// waiter while the gate is held by another goroutine.
type LocalQueue struct {
	name   string
	shared bool

	// gate
	gateMu  sync.Mutex
	held    bool
	waiters []chan struct{}

	// wake-up
	wakeups  chan struct{}
	awaiting atomic.Int32

	// watcher
	watcherMu sync.Mutex
	watcher   atomic.Pointer[ReleaseWatcher]

	competitors atomic.Int32
	refs        int // guarded by the registry mutex
}

// NewLocalQueue creates a private queue for a lock name
func NewLocalQueue(name string) *LocalQueue {
	return newLocalQueue(name, false)
}

func newLocalQueue(name string, shared bool) *LocalQueue {
	return &LocalQueue{
		name:    name,
		shared:  shared,
		wakeups: make(chan struct{}, wakeupCapacity),
	}
}

// Name returns the lock name of the queue
func (q *LocalQueue) Name() string {
	return q.name
}

// Shared returns whether the queue is managed by a SharedQueueRegistry
func (q *LocalQueue) Shared() bool {
	return q.shared
}

// --------------------------------------------------------------------------
// Gate
// --------------------------------------------------------------------------

// Acquire blocks until the gate is acquired
func (q *LocalQueue) Acquire() {
	_, _ = q.acquire(context.Background(), false, -1)
}

// AcquireTimed waits up to timeout for the gate
func (q *LocalQueue) AcquireTimed(timeout time.Duration) bool {
	ok, _ := q.acquire(context.Background(), false, timeout)
	return ok
}

// AcquireCancellable waits for the gate until ctx is done
func (q *LocalQueue) AcquireCancellable(ctx context.Context) error {
	_, err := q.acquire(ctx, true, -1)
	return err
}

// acquire enters the gate. A negative timeout waits forever. Only
// interruptible waits observe ctx.
//
// Thread-safety: the gate is handed to waiters in FIFO order. A waiter that
// gives up is removed from the line; if the gate was handed to it in the
// meantime it is passed on.
func (q *LocalQueue) acquire(ctx context.Context, interruptible bool, timeout time.Duration) (bool, error) {
	q.gateMu.Lock()
	if !q.held && len(q.waiters) == 0 {
		q.held = true
		q.gateMu.Unlock()
		return true, nil
	}
	if timeout == 0 {
		q.gateMu.Unlock()
		return false, nil
	}
	ticket := make(chan struct{})
	q.waiters = append(q.waiters, ticket)
	q.gateMu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	var doneCh <-chan struct{}
	if interruptible {
		doneCh = ctx.Done()
	}

	select {
	case <-ticket:
		return true, nil
	case <-timeoutCh:
		return q.abandon(ticket), nil
	case <-doneCh:
		if q.abandon(ticket) {
			q.Release()
		}
		return false, cancelled(ctx.Err())
	}
}

// abandon removes ticket from the line. It returns true if the gate was
// already handed to the ticket.
func (q *LocalQueue) abandon(ticket chan struct{}) bool {
	q.gateMu.Lock()
	defer q.gateMu.Unlock()
	for i, t := range q.waiters {
		if t == ticket {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return false
		}
	}
	return true
}

// Release leaves the gate and hands it to the longest waiting goroutine
func (q *LocalQueue) Release() {
	q.gateMu.Lock()
	defer q.gateMu.Unlock()
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters[0] = nil
		q.waiters = q.waiters[1:]
		close(next)
		return
	}
	q.held = false
}

// HasQueued returns whether goroutines wait for the gate
func (q *LocalQueue) HasQueued() bool {
	return q.Queued() > 0
}

// Queued returns the number of goroutines waiting for the gate
func (q *LocalQueue) Queued() int {
	q.gateMu.Lock()
	defer q.gateMu.Unlock()
	return len(q.waiters)
}

// --------------------------------------------------------------------------
// Wake-up Channel
// --------------------------------------------------------------------------

// Signal wakes one waiter (now or the next one to call Await)
func (q *LocalQueue) Signal() {
	select {
	case q.wakeups <- struct{}{}:
	default:
	}
}

// SignalIfWaiting signals only if a goroutine is blocked in Await
func (q *LocalQueue) SignalIfWaiting() {
	if q.awaiting.Load() > 0 {
		q.Signal()
	}
}

// Await blocks until a wake-up arrives or d elapsed. Interruptible waits
// return an error matching ErrCancelled when ctx is done.
func (q *LocalQueue) Await(ctx context.Context, interruptible bool, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	q.awaiting.Add(1)
	defer q.awaiting.Add(-1)

	timer := time.NewTimer(d)
	defer timer.Stop()

	var doneCh <-chan struct{}
	if interruptible {
		doneCh = ctx.Done()
	}

	select {
	case <-q.wakeups:
		return nil
	case <-timer.C:
		return nil
	case <-doneCh:
		return cancelled(ctx.Err())
	}
}

// --------------------------------------------------------------------------
// Watcher Lifecycle
// --------------------------------------------------------------------------

// Competitors returns the number of goroutines in the acquisition loop
func (q *LocalQueue) Competitors() int {
	return int(q.competitors.Load())
}

// enter registers a competitor
func (q *LocalQueue) enter() {
	q.competitors.Add(1)
}

// leave unregisters a competitor and stops the watcher once the last
// competitor left and nobody waits for the gate
func (q *LocalQueue) leave() {
	if q.competitors.Add(-1) == 0 && !q.HasQueued() {
		q.deactivateWatcher()
	}
}

// activateWatcher makes sure a watcher for the wake-up channel runs and
// returns whether its subscription is established. A stopped watcher that is
// still installed is replaced.
//
// Thread-safety: double-checked, the watcher is created under watcherMu.
func (q *LocalQueue) activateWatcher(gw IStoreGateway, channel string) (bool, error) {
	if w := q.watcher.Load(); w != nil && !w.Stopped() {
		return w.IsSubscribed(), nil
	}

	q.watcherMu.Lock()
	defer q.watcherMu.Unlock()

	old := q.watcher.Load()
	if old != nil && !old.Stopped() {
		return old.IsSubscribed(), nil
	}

	w, err := NewReleaseWatcher(gw, channel, q.Signal, q.SignalIfWaiting)
	if err != nil {
		return false, err
	}
	q.watcher.Store(w)
	if old != nil {
		watchersActive.Add(-1)
	}
	w.Start()
	watchersActive.Add(1)
	Logger.Debugf("started release watcher for %s", q.name)

	return w.IsSubscribed(), nil
}

// deactivateWatcher stops the watcher unless a competitor arrived meanwhile.
// The watcher is marked stopped before watcherMu is released.
func (q *LocalQueue) deactivateWatcher() {
	q.watcherMu.Lock()
	defer q.watcherMu.Unlock()
	if q.competitors.Load() > 0 {
		return
	}
	if w := q.watcher.Swap(nil); w != nil {
		w.Stop()
		watchersActive.Add(-1)
		Logger.Debugf("stopped release watcher for %s", q.name)
	}
}

// stopWatcher stops the watcher unconditionally (queue is discarded)
func (q *LocalQueue) stopWatcher() {
	q.watcherMu.Lock()
	defer q.watcherMu.Unlock()
	if w := q.watcher.Swap(nil); w != nil {
		w.Stop()
		watchersActive.Add(-1)
	}
}

// Watching returns whether a watcher is active
func (q *LocalQueue) Watching() bool {
	return q.watcher.Load() != nil
}
