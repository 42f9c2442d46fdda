package query

import (
	"container/heap"

	"kaddht/kadid"
	"kaddht/peer"
)

// candState is one candidate peer known to a single path: its XOR distance
// to the query target, and whether it has already been queried.
type candState struct {
	id      peer.PeerID
	dist    kadid.ID
	queried bool
	success bool
	index   int // heap.Interface bookkeeping
}

// candHeap is a min-heap of *candState ordered by distance to the query
// target, the per-path "unqueried candidates" queue named in the query
// engine's algorithm.
type candHeap []*candState

func (h candHeap) Len() int { return len(h) }

func (h candHeap) Less(i, j int) bool {
	return kadid.Compare(h[i].dist, h[j].dist) < 0
}

func (h candHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *candHeap) Push(x any) {
	c := x.(*candState)
	c.index = len(*h)
	*h = append(*h, c)
}

func (h *candHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	c.index = -1
	*h = old[:n-1]
	return c
}

func popClosest(h *candHeap) *candState {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*candState)
}

func pushCandidate(h *candHeap, c *candState) {
	heap.Push(h, c)
}
