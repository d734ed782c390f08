package scheduling

import (
	"container/heap"
)

// entry is one pending activation of a handle.
type entry struct {
	when   Time
	seq    uint64
	handle *Handle
	value  any
	index  int
}

// entryQueue is a min-heap of entries keyed by (when, seq).
type entryQueue struct {
	entries entryHeap
}

func newEntryQueue() *entryQueue {
	q := &entryQueue{entries: make(entryHeap, 0)}
	heap.Init(&q.entries)
	return q
}

func (q *entryQueue) Push(e *entry) {
	heap.Push(&q.entries, e)
}

func (q *entryQueue) Pop() *entry {
	if q.entries.Len() == 0 {
		return nil
	}

	return heap.Pop(&q.entries).(*entry)
}

func (q *entryQueue) Peek() *entry {
	if q.entries.Len() == 0 {
		return nil
	}

	return q.entries[0]
}

// Remove takes e out of the heap wherever it sits. Removing an entry that is
// no longer queued does nothing.
func (q *entryQueue) Remove(e *entry) bool {
	if e.index < 0 || e.index >= len(q.entries) || q.entries[e.index] != e {
		return false
	}

	heap.Remove(&q.entries, e.index)
	return true
}

// Move changes the time of a queued entry and restores the heap order.
func (q *entryQueue) Move(e *entry, when Time, seq uint64) {
	e.when = when
	e.seq = seq
	heap.Fix(&q.entries, e.index)
}

func (q *entryQueue) Len() int {
	return q.entries.Len()
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}

	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
