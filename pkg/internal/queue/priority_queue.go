package queue

import (
	"container/heap"
	"errors"
	"sync"
)

// ErrQueueFull is returned by Push when the queue holds its capacity
var ErrQueueFull = errors.New("queue full")

// Item represents a priority queue item
type Item[T any] struct {
	Value    T      // The queued value
	Priority int    // Priority (higher = more important)
	Seq      uint64 // Insertion order, FIFO among equal priorities
	Index    int    // Index in the heap
}

// PriorityQueue is a bounded queue ordered by priority, then insertion.
// It is safe for concurrent use.
type PriorityQueue[T any] struct {
	items    itemHeap[T]
	capacity int
	seq      uint64
	notify   chan struct{}
	mu       sync.Mutex
}

// NewPriorityQueue creates a new priority queue.
// capacity <= 0 means unbounded.
func NewPriorityQueue[T any](capacity int) *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		items:    make(itemHeap[T], 0),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
	heap.Init(&pq.items)
	return pq
}

// Push adds an item to the queue
func (pq *PriorityQueue[T]) Push(value T, priority int) error {
	pq.mu.Lock()
	if pq.capacity > 0 && pq.items.Len() >= pq.capacity {
		pq.mu.Unlock()
		return ErrQueueFull
	}

	pq.seq++
	heap.Push(&pq.items, &Item[T]{
		Value:    value,
		Priority: priority,
		Seq:      pq.seq,
	})
	pq.mu.Unlock()

	select {
	case pq.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the highest priority item
func (pq *PriorityQueue[T]) Pop() (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	var zero T
	if pq.items.Len() == 0 {
		return zero, false
	}

	item := heap.Pop(&pq.items).(*Item[T])
	return item.Value, true
}

// Peek returns the highest priority item without removing it
func (pq *PriorityQueue[T]) Peek() *Item[T] {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.items.Len() == 0 {
		return nil
	}

	return pq.items[0]
}

// Notify returns a channel signalled after every Push.
// Consumers drain with Pop until it reports empty.
func (pq *PriorityQueue[T]) Notify() <-chan struct{} {
	return pq.notify
}

// Len returns the number of items in the queue
func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.items.Len()
}

// Cap returns the capacity, 0 when unbounded
func (pq *PriorityQueue[T]) Cap() int {
	if pq.capacity < 0 {
		return 0
	}
	return pq.capacity
}

// Clear removes all items
func (pq *PriorityQueue[T]) Clear() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.items = make(itemHeap[T], 0)
	heap.Init(&pq.items)
}

// itemHeap implements heap.Interface
type itemHeap[T any] []*Item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	// First by priority (higher = sooner)
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	// Then by insertion order
	return h[i].Seq < h[j].Seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Index = i
	h[j].Index = j
}

func (h *itemHeap[T]) Push(x any) {
	item := x.(*Item[T])
	item.Index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*h = old[0 : n-1]
	return item
}
