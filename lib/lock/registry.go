package lock

import (
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// SharedQueueRegistry maps lock names to shared LocalQueues. All shared locks
// for the same name and registry use one queue, and so one FIFO gate and one
// release watcher.
//
// Queues are reference counted: every shared lock holds one reference until it
// is closed. The queue is removed (and its watcher stopped) when the last
// reference is released.
//
// Thread-safety: creating and releasing references is serialized by one
// registry-wide mutex; lookups are lock-free.
type SharedQueueRegistry struct {
	mu     sync.Mutex
	queues *xsync.MapOf[string, *LocalQueue]
}

// defaultRegistry is the process-wide registry
var defaultRegistry = NewSharedQueueRegistry()

// NewSharedQueueRegistry creates an empty registry
func NewSharedQueueRegistry() *SharedQueueRegistry {
	return &SharedQueueRegistry{
		queues: xsync.NewMapOf[string, *LocalQueue](),
	}
}

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *SharedQueueRegistry {
	return defaultRegistry
}

// acquire returns the queue for name (created if absent) and takes a reference on it
func (r *SharedQueueRegistry) acquire(name string) *LocalQueue {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues.Load(name)
	if !ok {
		q = newLocalQueue(name, true)
		r.queues.Store(name, q)
		Logger.Debugf("created shared queue for %s", name)
	}
	q.refs++
	return q
}

// release drops a reference on q and removes it once unreferenced
func (r *SharedQueueRegistry) release(q *LocalQueue) {
	r.mu.Lock()
	q.refs--
	remove := q.refs <= 0
	if remove {
		// a queue of the same name might have replaced q already
		if cur, ok := r.queues.Load(q.name); ok && cur == q {
			r.queues.Delete(q.name)
		}
	}
	r.mu.Unlock()

	if remove {
		q.stopWatcher()
		Logger.Debugf("removed shared queue for %s", q.name)
	}
}

// Lookup returns the shared queue of a lock name
func (r *SharedQueueRegistry) Lookup(name string) (*LocalQueue, bool) {
	return r.queues.Load(name)
}

// Size returns the number of shared queues
func (r *SharedQueueRegistry) Size() int {
	return r.queues.Size()
}

// Names returns the lock names with a shared queue (sorted)
func (r *SharedQueueRegistry) Names() []string {
	names := make([]string, 0, r.queues.Size())
	r.queues.Range(func(name string, _ *LocalQueue) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// SharedQueueSize returns the number of queues in the process-wide registry
func SharedQueueSize() int {
	return defaultRegistry.Size()
}

// SharedQueueNames returns the lock names in the process-wide registry
func SharedQueueNames() []string {
	return defaultRegistry.Names()
}
