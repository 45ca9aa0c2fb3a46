package util

import (
	"math/rand"
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[string]()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}
	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, exists := mh.Peek(); exists {
		t.Error("Peek on empty heap should return exists=false")
	}
}

// TestAddItem tests adding and updating items
func TestAddItem(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 50)

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}
	for _, key := range []string{"a", "b", "c"} {
		if !mh.Contains(key) {
			t.Errorf("Heap should contain key %s", key)
		}
	}

	it, _ := mh.Peek()
	if it.Key != "c" || it.Priority != 50 {
		t.Errorf("Expected min item to be (c,50), got %s", it)
	}

	// update moves the item
	mh.AddItem("c", 300)
	it, _ = mh.Peek()
	if it.Key != "a" {
		t.Errorf("Min item should now be a, got %s", it.Key)
	}
	if mh.Len() != 3 {
		t.Errorf("Update must not add an item, heap has %d items", mh.Len())
	}

	it, exists := mh.GetByKey("c")
	if !exists || it.Priority != 300 {
		t.Errorf("GetByKey(c) = %v, %v, want priority 300", it, exists)
	}
}

// TestRemoveByKey tests removing items by key
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 300)

	priority, exists := mh.RemoveByKey("b")
	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}
	if priority != 200 {
		t.Errorf("RemoveByKey should return priority 200, got %d", priority)
	}
	if mh.Contains("b") {
		t.Error("Heap should not contain key b after removal")
	}
	if _, exists = mh.RemoveByKey("x"); exists {
		t.Error("RemoveByKey should return false for non-existent key")
	}
}

// TestPopDue tests that only due items are returned, in priority order
func TestPopDue(t *testing.T) {
	tests := []struct {
		name  string
		limit uint64
		want  []string
	}{
		{"nothing due", 5, nil},
		{"exact limit", 10, []string{"a"}},
		{"some due", 35, []string{"a", "b", "c"}},
		{"all due", 100, []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mh := NewMapHeap[string]()
			mh.AddItem("d", 40)
			mh.AddItem("b", 20)
			mh.AddItem("a", 10)
			mh.AddItem("c", 30)

			got := mh.PopDue(tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("PopDue(%d) = %v, want %v", tt.limit, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("PopDue(%d)[%d] = %s, want %s", tt.limit, i, got[i], tt.want[i])
				}
			}
			if mh.Len() != 4-len(tt.want) {
				t.Errorf("Heap should have %d items left, has %d", 4-len(tt.want), mh.Len())
			}
		})
	}
}

// TestLargeNumberOfItems tests the heap order with many random items
func TestLargeNumberOfItems(t *testing.T) {
	mh := NewMapHeap[int]()
	r := rand.New(rand.NewSource(42))

	priorities := make([]uint64, 0, 1000)
	for i := 0; i < 1000; i++ {
		p := uint64(r.Intn(1_000_000))
		mh.AddItem(i, p)
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	due := mh.PopDue(^uint64(0))
	if len(due) != 1000 {
		t.Fatalf("Expected 1000 due items, got %d", len(due))
	}
	if mh.Len() != 0 {
		t.Errorf("Heap should be empty, has %d items", mh.Len())
	}
	if mh.Contains(due[0]) {
		t.Error("Popped item should not be contained anymore")
	}
}
