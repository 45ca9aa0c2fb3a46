// Package util
//
// This file provides a priority queue that also supports access by key. The
// maple engine uses it to schedule the expiry of lock records: the key is the
// record key, the priority the clock value at which the record expires.
//
// Operations:
//   - O(log n) for AddItem, RemoveByKey and PopDue
//   - O(1) for Peek, Contains and GetByKey
//
// The MapHeap is not thread-safe, callers synchronize externally.
//
// Example usage:
//
//	expiries := NewMapHeap[string]()
//	expiries.AddItem("orders", 1700000000000)
//	expiries.AddItem("orders", 1700000005000) // updates the priority
//
//	for _, key := range expiries.PopDue(now) {
//	    // collect key
//	}
package util

import (
	"container/heap"
	"fmt"
)

// Item is an entry of a MapHeap
type Item[K comparable] struct {
	Key      K      // Unique identifier for the item
	Priority uint64 // Priority used for ordering in the heap (lowest first)
	index    int    // Index in the heap, maintained by heap package
}

func (i *Item[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// itemHeap implements heap.Interface
type itemHeap[K comparable] struct {
	items    []*Item[K]
	itemsMap map[K]*Item[K]
}

func (h *itemHeap[K]) Len() int { return len(h.items) }

func (h *itemHeap[K]) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

func (h *itemHeap[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *itemHeap[K]) Push(x any) {
	it := x.(*Item[K])
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

func (h *itemHeap[K]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// MapHeap is a min-heap of keys ordered by priority with key-based access
type MapHeap[K comparable] struct {
	h itemHeap[K]
}

// NewMapHeap creates an empty MapHeap
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		h: itemHeap[K]{
			items:    make([]*Item[K], 0),
			itemsMap: make(map[K]*Item[K]),
		},
	}
}

// Len returns the number of items
func (m *MapHeap[K]) Len() int { return m.h.Len() }

// AddItem adds a new item or updates the priority of an existing one
func (m *MapHeap[K]) AddItem(key K, priority uint64) {
	if it, exists := m.h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(&m.h, it.index)
		return
	}
	heap.Push(&m.h, &Item[K]{Key: key, Priority: priority})
}

// RemoveByKey removes an item by its key and returns its priority
func (m *MapHeap[K]) RemoveByKey(key K) (uint64, bool) {
	it, exists := m.h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(&m.h, it.index)
	return it.Priority, true
}

// Peek returns the item with the lowest priority without removing it
func (m *MapHeap[K]) Peek() (*Item[K], bool) {
	if len(m.h.items) == 0 {
		return nil, false
	}
	return m.h.items[0], true
}

// PopDue removes and returns the keys of all items with a priority <= limit
func (m *MapHeap[K]) PopDue(limit uint64) []K {
	var due []K
	for len(m.h.items) > 0 && m.h.items[0].Priority <= limit {
		it := heap.Pop(&m.h).(*Item[K])
		due = append(due, it.Key)
	}
	return due
}

// Contains checks if a key exists in the heap
func (m *MapHeap[K]) Contains(key K) bool {
	_, exists := m.h.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (m *MapHeap[K]) GetByKey(key K) (*Item[K], bool) {
	it, exists := m.h.itemsMap[key]
	return it, exists
}
