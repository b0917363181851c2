package knn

import (
	"sort"
)

// SortLocal returns a copy of neighbors sorted by (distance, reference id).
// It never truncates: a partition cannot know which of its candidates end up
// in the global k nearest, so every candidate must reach the reducer.
func SortLocal(neighbors NeighborSequence) NeighborSequence {
	out := make(NeighborSequence, len(neighbors))
	copy(out, neighbors)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
