package hnsw

import "container/heap"

// scored pairs a node id with its distance to the active query vector.
type scored struct {
	id       string
	distance float64
}

// minHeap orders scored items nearest-first; used for the unexplored
// candidate frontier in searchLayer, matching the corrected design
// (a genuine min-heap of candidates, not the source's single mixed
// container used for both roles).
type minHeap []scored

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].distance < h[j].distance }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap orders scored items farthest-first, so the root is always
// the worst of the currently-held set; used to keep a size-bounded
// "best ef seen so far" result set in searchLayer.
type maxHeap []scored

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].distance > h[j].distance }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// drainSorted pops every item off a maxHeap and returns them ascending
// by distance, leaving the heap empty.
func drainSorted(h *maxHeap) []scored {
	out := make([]scored, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(scored)
	}
	return out
}
