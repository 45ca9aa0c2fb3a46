package lock

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Metrics (exported with metrics.WritePrometheus)
// --------------------------------------------------------------------------

var (
	acquireOK        = metrics.NewCounter(`dlock_acquire_total{result="ok"}`)
	acquireTimeout   = metrics.NewCounter(`dlock_acquire_total{result="timeout"}`)
	acquireCancelled = metrics.NewCounter(`dlock_acquire_total{result="cancelled"}`)
	acquireError     = metrics.NewCounter(`dlock_acquire_total{result="error"}`)
	acquireWait      = metrics.NewHistogram(`dlock_acquire_wait_seconds`)

	releaseOK       = metrics.NewCounter(`dlock_release_total{result="ok"}`)
	releaseNotOwner = metrics.NewCounter(`dlock_release_total{result="not_owner"}`)

	watchersActive atomic.Int64
	_              = metrics.NewGauge(`dlock_watchers_active`, func() float64 {
		return float64(watchersActive.Load())
	})
	_ = metrics.NewGauge(`dlock_shared_queues`, func() float64 {
		return float64(defaultRegistry.Size())
	})
)

// observeAcquire records the outcome of a blocking acquisition
func observeAcquire(start time.Time, acquired bool, err error) {
	acquireWait.UpdateDuration(start)
	switch {
	case err == nil && acquired:
		acquireOK.Inc()
	case err == nil:
		acquireTimeout.Inc()
	case errors.Is(err, ErrCancelled):
		acquireCancelled.Inc()
	default:
		acquireError.Inc()
	}
}
