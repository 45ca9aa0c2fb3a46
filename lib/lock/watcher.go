package lock

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// resubscribeDelay is the pause before subscribing again after Subscribe returned
	resubscribeDelay = 10 * time.Millisecond
	// resubscribeBackoff is the pause after a failed Subscribe
	resubscribeBackoff = 100 * time.Millisecond
)

// ReleaseWatcher listens on the wake-up channel of a lock and signals the
// owning LocalQueue for every message. It owns one subscription (and with it
// one store connection) and one goroutine.
//
// The goroutine subscribes again whenever Subscribe returns before Stop was
// called, so a subscription that dropped or was never fully established is
// recovered.
type ReleaseWatcher struct {
	sub     ISubscription
	signal  func()
	onClose func()

	started   atomic.Bool
	stopped   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewReleaseWatcher creates a watcher for channel. signal is called for every
// message, onClose once after the watcher stopped (may be nil).
func NewReleaseWatcher(gw IStoreGateway, channel string, signal func(), onClose func()) (*ReleaseWatcher, error) {
	w := &ReleaseWatcher{
		signal:  signal,
		onClose: onClose,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	sub, err := gw.Subscription(channel, w.onMessage)
	if err != nil {
		return nil, err
	}
	w.sub = sub
	return w, nil
}

// Start runs the subscription loop in a new goroutine. Calling Start more than once has no effect.
func (w *ReleaseWatcher) Start() {
	if w.stopped.Load() || !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
}

// Stop ends the subscription loop. The subscription is closed and the close
// callback runs exactly once. Stop is idempotent and does not wait, use Done
// for that.
func (w *ReleaseWatcher) Stop() {
	if !w.stopped.CompareAndSwap(false, true) {
		return
	}
	close(w.stopCh)
	if err := w.sub.Unsubscribe(); err != nil {
		Logger.Debugf("unsubscribe from %s failed: %v", w.sub.Channel(), err)
	}

	// the loop never ran, nobody else will close
	if w.started.CompareAndSwap(false, true) {
		w.close()
		close(w.done)
	}
}

// Done is closed when the watcher has stopped and released its subscription
func (w *ReleaseWatcher) Done() <-chan struct{} {
	return w.done
}

// IsSubscribed returns whether the subscription is established
func (w *ReleaseWatcher) IsSubscribed() bool {
	return !w.stopped.Load() && w.sub.IsSubscribed()
}

// Stopped returns whether Stop was called
func (w *ReleaseWatcher) Stopped() bool {
	return w.stopped.Load()
}

// run is the subscription loop
func (w *ReleaseWatcher) run() {
	defer close(w.done)
	defer w.close()

	for !w.stopped.Load() {
		pause := resubscribeDelay
		if err := w.sub.Subscribe(); err != nil && !w.stopped.Load() {
			Logger.Warningf("subscription to %s failed, retrying: %v", w.sub.Channel(), err)
			pause = resubscribeBackoff
		}

		select {
		case <-w.stopCh:
			return
		case <-time.After(pause):
		}
	}
}

// onMessage is the message handler of the subscription
func (w *ReleaseWatcher) onMessage(_ string) {
	if w.signal != nil {
		w.signal()
	}
}

// close releases the subscription and runs the close callback
func (w *ReleaseWatcher) close() {
	w.closeOnce.Do(func() {
		if err := w.sub.Close(); err != nil {
			Logger.Debugf("closing subscription to %s failed: %v", w.sub.Channel(), err)
		}
		if w.onClose != nil {
			w.onClose()
		}
	})
}
