package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it is true or a second passed
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGateFIFO(t *testing.T) {
	q := NewLocalQueue("fifo")
	q.Acquire()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Acquire()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			q.Release()
		}(i)
		// enqueue one after another
		waitFor(t, "waiter to queue", func() bool { return q.Queued() == i+1 })
	}

	if !q.HasQueued() {
		t.Fatal("HasQueued() = false with waiters")
	}
	q.Release()
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("gate order = %v, want FIFO", order)
		}
	}
	if q.HasQueued() {
		t.Error("HasQueued() = true after all waiters passed")
	}
	if !q.AcquireTimed(0) {
		t.Error("Expected the free gate to be acquired without waiting")
	}
}

func TestGateTimed(t *testing.T) {
	q := NewLocalQueue("timed")
	q.Acquire()

	start := time.Now()
	if q.AcquireTimed(30 * time.Millisecond) {
		t.Fatal("AcquireTimed() on a held gate = true")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("AcquireTimed() returned after %v, want >= 30ms", elapsed)
	}
	if q.HasQueued() {
		t.Error("timed out waiter is still queued")
	}
	if q.AcquireTimed(0) {
		t.Error("AcquireTimed(0) on a held gate = true")
	}

	q.Release()
	if !q.AcquireTimed(30 * time.Millisecond) {
		t.Error("AcquireTimed() on a released gate = false")
	}
}

func TestGateCancellable(t *testing.T) {
	q := NewLocalQueue("cancel")
	q.Acquire()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.AcquireCancellable(ctx) }()
	waitFor(t, "waiter to queue", func() bool { return q.Queued() == 1 })
	cancel()

	err := <-done
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("AcquireCancellable() = %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("AcquireCancellable() = %v, want it to wrap context.Canceled", err)
	}

	// the gate is still usable
	q.Release()
	if !q.AcquireTimed(0) {
		t.Error("Expected the gate to be free after the cancelled waiter left")
	}
}

func TestAwait(t *testing.T) {
	q := NewLocalQueue("await")
	ctx := context.Background()

	// a pending signal is consumed at once
	q.Signal()
	start := time.Now()
	if err := q.Await(ctx, true, time.Second); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Await() with pending signal took %v", elapsed)
	}

	// without a waiter SignalIfWaiting is dropped
	q.SignalIfWaiting()
	start = time.Now()
	if err := q.Await(ctx, true, 30*time.Millisecond); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Await() returned after %v, want the full wait", elapsed)
	}

	// a waiting goroutine is woken
	done := make(chan struct{})
	go func() {
		_ = q.Await(ctx, false, 10*time.Second)
		close(done)
	}()
	waitFor(t, "goroutine to await", func() bool { return q.awaiting.Load() == 1 })
	q.SignalIfWaiting()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await() was not woken")
	}

	if err := q.Await(ctx, true, 0); err != nil {
		t.Errorf("Await(0) error = %v", err)
	}
}

func TestAwaitCancellation(t *testing.T) {
	q := NewLocalQueue("await-cancel")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Await(ctx, true, time.Second); !errors.Is(err, ErrCancelled) {
		t.Errorf("interruptible Await() = %v, want ErrCancelled", err)
	}
	if err := q.Await(ctx, false, 20*time.Millisecond); err != nil {
		t.Errorf("non-interruptible Await() = %v, want nil", err)
	}
}

func TestSignalCoalesces(t *testing.T) {
	q := NewLocalQueue("coalesce")
	for i := 0; i < 2*wakeupCapacity; i++ {
		q.Signal()
	}
	if n := len(q.wakeups); n != wakeupCapacity {
		t.Errorf("pending wake-ups = %d, want %d", n, wakeupCapacity)
	}
}

func TestWatcherFollowsCompetitors(t *testing.T) {
	gw := newFakeGateway()
	q := NewLocalQueue("competitors")

	q.enter()
	q.enter()
	if _, err := q.activateWatcher(gw, "ch"); err != nil {
		t.Fatalf("activateWatcher() error = %v", err)
	}
	if _, err := q.activateWatcher(gw, "ch"); err != nil {
		t.Fatalf("activateWatcher() error = %v", err)
	}
	if n := gw.created(); n != 1 {
		t.Errorf("subscriptions created = %d, want 1", n)
	}
	if q.Competitors() != 2 {
		t.Errorf("Competitors() = %d, want 2", q.Competitors())
	}

	q.leave()
	if !q.Watching() {
		t.Error("watcher stopped while a competitor is left")
	}
	q.leave()
	if q.Watching() {
		t.Error("watcher still active without competitors")
	}
	if q.Competitors() != 0 {
		t.Errorf("Competitors() = %d, want 0", q.Competitors())
	}
}

func TestStoppedWatcherIsReplaced(t *testing.T) {
	gw := newFakeGateway()
	q := NewLocalQueue("replace")
	q.enter()
	defer q.leave()

	if _, err := q.activateWatcher(gw, "ch"); err != nil {
		t.Fatalf("activateWatcher() error = %v", err)
	}
	first := q.watcher.Load()
	waitFor(t, "first subscription", first.IsSubscribed)

	first.Stop()
	subscribed, err := q.activateWatcher(gw, "ch")
	if err != nil {
		t.Fatalf("activateWatcher() error = %v", err)
	}
	if subscribed {
		t.Error("activateWatcher() reported the subscription of a stopped watcher")
	}
	if n := gw.created(); n != 2 {
		t.Errorf("subscriptions created = %d, want 2", n)
	}
	second := q.watcher.Load()
	if second == first || second.Stopped() {
		t.Fatal("stopped watcher was not replaced")
	}
	waitFor(t, "second subscription", second.IsSubscribed)

	gw.last().publish("released")
	select {
	case <-q.wakeups:
	case <-time.After(time.Second):
		t.Error("replacement watcher did not signal the queue")
	}
}

func TestDeactivateMarksWatcherStopped(t *testing.T) {
	gw := newFakeGateway()
	q := NewLocalQueue("deactivate")
	q.enter()
	if _, err := q.activateWatcher(gw, "ch"); err != nil {
		t.Fatalf("activateWatcher() error = %v", err)
	}
	w := q.watcher.Load()

	q.leave()
	if !w.Stopped() {
		t.Error("watcher not stopped after the last competitor left")
	}
	if q.Watching() {
		t.Error("watcher still installed after the last competitor left")
	}
}
