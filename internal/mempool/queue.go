package mempool

import "container/heap"

// Queue is a priority queue that also supports lookup and removal by key.
// less(a, b) reports whether a is served before b. Every operation except
// Clone runs in O(log n) or better.
type Queue[K comparable, T any] struct {
	h *indexedHeap[K, T]
}

// NewQueue creates an empty queue ordered by less and keyed by key.
func NewQueue[K comparable, T any](less func(a, b T) bool, key func(T) K) *Queue[K, T] {
	return &Queue[K, T]{
		h: &indexedHeap[K, T]{
			index: make(map[K]int),
			less:  less,
			key:   key,
		},
	}
}

// Add inserts item. An item already queued under the same key is replaced.
func (q *Queue[K, T]) Add(item T) {
	if i, ok := q.h.index[q.h.key(item)]; ok {
		q.h.items[i] = item
		heap.Fix(q.h, i)
		return
	}
	heap.Push(q.h, item)
}

// Peek returns the head of the queue without removing it.
func (q *Queue[K, T]) Peek() (T, bool) {
	if len(q.h.items) == 0 {
		var zero T
		return zero, false
	}
	return q.h.items[0], true
}

// Poll removes and returns the head of the queue.
func (q *Queue[K, T]) Poll() (T, bool) {
	if len(q.h.items) == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(q.h).(T), true
}

// Remove drops the item stored under key and reports whether it was present.
func (q *Queue[K, T]) Remove(key K) bool {
	i, ok := q.h.index[key]
	if !ok {
		return false
	}
	heap.Remove(q.h, i)
	return true
}

// Has reports whether an item is queued under key.
func (q *Queue[K, T]) Has(key K) bool {
	_, ok := q.h.index[key]
	return ok
}

// Len returns the number of queued items.
func (q *Queue[K, T]) Len() int { return len(q.h.items) }

// Clone returns an independent copy. Items are copied by value, so mutating
// one queue never affects the other.
func (q *Queue[K, T]) Clone() *Queue[K, T] {
	items := make([]T, len(q.h.items))
	copy(items, q.h.items)

	index := make(map[K]int, len(q.h.index))
	for k, v := range q.h.index {
		index[k] = v
	}
	return &Queue[K, T]{
		h: &indexedHeap[K, T]{
			items: items,
			index: index,
			less:  q.h.less,
			key:   q.h.key,
		},
	}
}

// indexedHeap implements heap.Interface and tracks the slot of every key so
// that arbitrary items can be fixed or removed.
type indexedHeap[K comparable, T any] struct {
	items []T
	index map[K]int
	less  func(a, b T) bool
	key   func(T) K
}

func (h *indexedHeap[K, T]) Len() int { return len(h.items) }

func (h *indexedHeap[K, T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *indexedHeap[K, T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.key(h.items[i])] = i
	h.index[h.key(h.items[j])] = j
}

func (h *indexedHeap[K, T]) Push(x any) {
	item := x.(T)
	h.index[h.key(item)] = len(h.items)
	h.items = append(h.items, item)
}

func (h *indexedHeap[K, T]) Pop() any {
	n := len(h.items)
	item := h.items[n-1]

	var zero T
	h.items[n-1] = zero // avoid memory leak
	h.items = h.items[:n-1]
	delete(h.index, h.key(item))
	return item
}
