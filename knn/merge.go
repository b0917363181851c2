package knn

import (
	"container/heap"

	"github.com/pkg/errors"
)

// SelectKNearest merges the fragments collected for one query and returns the
// k nearest neighbors, ascending by (distance, reference id). With presorted
// set every fragment must already be ascending and they are k-way merged;
// otherwise the fragments are concatenated and fully sorted. Both paths give
// the same result. Fewer than k candidates are all returned.
func SelectKNearest(fragments []NeighborSequence, k int, presorted bool) (NeighborSequence, error) {
	if k <= 0 {
		return nil, errors.Wrapf(ErrInvalidK, "got %d", k)
	}

	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	if total == 0 {
		return nil, ErrEmptyReferenceSet
	}

	if presorted {
		return mergeSorted(fragments, k), nil
	}
	return sortAndTruncate(fragments, total, k), nil
}

func sortAndTruncate(fragments []NeighborSequence, total, k int) NeighborSequence {
	all := make(NeighborSequence, 0, total)
	for _, f := range fragments {
		all = append(all, f...)
	}
	all = SortLocal(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// mergeCursor points at the next unread element of a fragment. seq is the
// insertion counter; it makes the heap order total when two fragments hold
// equal neighbors.
type mergeCursor struct {
	n        Neighbor
	fragment int
	pos      int
	seq      uint64
}

type mergeHeap []mergeCursor

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if h[i].n.Distance != h[j].n.Distance {
		return h[i].n.Distance < h[j].n.Distance
	}
	if h[i].n.ReferenceID != h[j].n.ReferenceID {
		return h[i].n.ReferenceID < h[j].n.ReferenceID
	}
	return h[i].seq < h[j].seq
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeCursor)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// mergeSorted k-way merges ascending fragments, stopping after k elements.
func mergeSorted(fragments []NeighborSequence, k int) NeighborSequence {
	var seq uint64
	h := make(mergeHeap, 0, len(fragments))
	for i, f := range fragments {
		if len(f) == 0 {
			continue
		}
		h = append(h, mergeCursor{n: f[0], fragment: i, pos: 0, seq: seq})
		seq++
	}
	heap.Init(&h)

	out := make(NeighborSequence, 0, k)
	for len(out) < k && h.Len() > 0 {
		c := heap.Pop(&h).(mergeCursor)
		out = append(out, c.n)

		next := c.pos + 1
		if f := fragments[c.fragment]; next < len(f) {
			heap.Push(&h, mergeCursor{n: f[next], fragment: c.fragment, pos: next, seq: seq})
			seq++
		}
	}
	return out
}
