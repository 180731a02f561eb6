package brain

import (
	"container/heap"
	"sync"

	"github.com/brainhouse/capital-brain/pkg/types"
)

// queuedSignal is a single pending entry in the priority queue.
type queuedSignal struct {
	signal types.IntentSignal
	seq    uint64 // arrival order, for FIFO-within-phase tie-break
	index  int    // heap.Interface bookkeeping
}

// priorityHeap orders by phase priority desc, then arrival order asc, then
// signalId lexicographically asc.
type priorityHeap []*queuedSignal

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	pi, pj := h[i].signal.PhaseID.Priority(), h[j].signal.PhaseID.Priority()
	if pi != pj {
		return pi > pj
	}
	if h[i].seq != h[j].seq {
		return h[i].seq < h[j].seq
	}
	return h[i].signal.SignalID < h[j].signal.SignalID
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*queuedSignal)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PriorityQueue is the bounded, priority-ordered inbound signal queue.
// Overflow drops the current lowest-priority tail entry and reports it so
// the caller can record a queue_drop metric.
type PriorityQueue struct {
	mu      sync.Mutex
	heap    priorityHeap
	maxSize int
	nextSeq uint64

	dropped int64
}

// NewPriorityQueue constructs an empty bounded priority queue.
func NewPriorityQueue(maxSize int) *PriorityQueue {
	q := &PriorityQueue{maxSize: maxSize}
	heap.Init(&q.heap)
	return q
}

// Push enqueues signal. If at capacity, it evicts the single
// lowest-priority entry (by heap order) to make room, returning the dropped
// signal's id if an eviction occurred.
func (q *PriorityQueue) Push(signal types.IntentSignal) (droppedSignalID string, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &queuedSignal{signal: signal, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.heap, item)

	if q.heap.Len() > q.maxSize {
		worstIdx := q.worstIndex()
		worst := q.heap[worstIdx]
		heap.Remove(&q.heap, worstIdx)
		q.dropped++
		return worst.signal.SignalID, true
	}
	return "", false
}

// worstIndex finds the lowest-priority entry in the heap (not necessarily
// the heap's Pop candidate, since this is a min-heap by priority-desc order
// meaning index 0 is the highest priority; scan for the true max by Less).
func (q *PriorityQueue) worstIndex() int {
	worst := 0
	for i := 1; i < q.heap.Len(); i++ {
		if q.heap.Less(worst, i) {
			worst = i
		}
	}
	return worst
}

// Pop removes and returns the highest-priority pending signal.
func (q *PriorityQueue) Pop() (types.IntentSignal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return types.IntentSignal{}, false
	}
	item := heap.Pop(&q.heap).(*queuedSignal)
	return item.signal, true
}

// PopSymbolBatch pops the single highest-priority signal and every other
// pending signal sharing its symbol, returned in priority order, so the
// caller can net them together before authorizing.
func (q *PriorityQueue) PopSymbolBatch() ([]types.IntentSignal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil, false
	}
	head := heap.Pop(&q.heap).(*queuedSignal)
	matched := priorityHeap{head}

	kept := make(priorityHeap, 0, q.heap.Len())
	for _, item := range q.heap {
		if item.signal.Symbol == head.signal.Symbol {
			matched = append(matched, item)
			continue
		}
		kept = append(kept, item)
	}
	q.heap = kept
	heap.Init(&q.heap)

	heap.Init(&matched)
	out := make([]types.IntentSignal, 0, len(matched))
	for matched.Len() > 0 {
		out = append(out, heap.Pop(&matched).(*queuedSignal).signal)
	}
	return out, true
}

// Len returns the number of pending signals.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// DroppedCount returns the cumulative number of overflow-evicted signals.
func (q *PriorityQueue) DroppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
