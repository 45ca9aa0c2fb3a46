package lock

import (
	"reflect"
	"testing"
)

func TestRegistryReferenceCounting(t *testing.T) {
	r := NewSharedQueueRegistry()

	a1 := r.acquire("a")
	a2 := r.acquire("a")
	b := r.acquire("b")

	if a1 != a2 {
		t.Error("Expected the same queue for the same name")
	}
	if a1 == b {
		t.Error("Expected different queues for different names")
	}
	if !a1.Shared() {
		t.Error("Shared() = false for a registry queue")
	}
	if r.Size() != 2 {
		t.Errorf("Size() = %d, want 2", r.Size())
	}
	if names := r.Names(); !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Errorf("Names() = %v, want [a b]", names)
	}

	r.release(a1)
	if _, ok := r.Lookup("a"); !ok {
		t.Error("queue removed while still referenced")
	}
	r.release(a2)
	if _, ok := r.Lookup("a"); ok {
		t.Error("queue not removed after the last reference")
	}
	r.release(b)
	if r.Size() != 0 {
		t.Errorf("Size() = %d, want 0", r.Size())
	}

	// a new reference creates a new queue
	if a3 := r.acquire("a"); a3 == a1 {
		t.Error("Expected a fresh queue after removal")
	}
}

func TestRegistryStopsWatcher(t *testing.T) {
	r := NewSharedQueueRegistry()
	gw := newFakeGateway()

	q := r.acquire("w")
	q.enter()
	if _, err := q.activateWatcher(gw, "ch"); err != nil {
		t.Fatalf("activateWatcher() error = %v", err)
	}
	if !q.Watching() {
		t.Fatal("Expected an active watcher")
	}

	r.release(q)
	if q.Watching() {
		t.Error("watcher of a removed queue is still active")
	}
	if gw.last().closed.Load() == 0 {
		waitFor(t, "subscription to close", func() bool { return gw.last().closed.Load() == 1 })
	}
}

func TestPrivateQueueIsNotShared(t *testing.T) {
	if NewLocalQueue("p").Shared() {
		t.Error("Shared() = true for a private queue")
	}
}
