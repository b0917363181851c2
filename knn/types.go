// Package knn classifies unlabeled samples by majority vote over their k
// nearest labeled samples, computed as a map/combine/reduce job: partitions of
// the reference set are scanned independently, each partition's candidates are
// optionally sorted locally, and a reducer per query merges the partition
// fragments into the global k nearest.
package knn

import (
	"github.com/pkg/errors"
)

// A Sample is one row of input. A sample without a label is a query, one with
// a label is a reference point.
type Sample struct {
	ID       int64     `msgpack:"id"`
	Features []float64 `msgpack:"f"`
	Label    string    `msgpack:"l,omitempty"`
}

// IsQuery reports whether s is to be classified.
func (s Sample) IsQuery() bool {
	return s.Label == ""
}

// Neighbor is a candidate reference point for one query.
type Neighbor struct {
	ReferenceID int64   `msgpack:"id"`
	Label       string  `msgpack:"l"`
	Distance    float64 `msgpack:"d"`
}

// Less orders neighbors by distance, then by reference id.
func (n Neighbor) Less(o Neighbor) bool {
	if n.Distance != o.Distance {
		return n.Distance < o.Distance
	}
	return n.ReferenceID < o.ReferenceID
}

// NeighborSequence is a list of neighbors, ascending by (distance, reference
// id) once sorted. Sorted sequences are never modified in place; merging
// produces a new sequence.
type NeighborSequence []Neighbor

// IsSorted reports whether s is ascending by (distance, reference id).
func (s NeighborSequence) IsSorted() bool {
	for i := 1; i < len(s); i++ {
		if s[i].Less(s[i-1]) {
			return false
		}
	}
	return true
}

// Prediction is the output record for one query.
type Prediction struct {
	QueryID int64
	Label   string
}

// Strategy selects how the reducer turns partition fragments into the k
// nearest neighbors. Both strategies produce identical output.
type Strategy string

const (
	// PreSortedMerge sorts each fragment inside its map task and k-way merges
	// the sorted fragments in the reducer.
	PreSortedMerge Strategy = "pre-sorted-merge"
	// CollectThenSort ships unsorted fragments and sorts their concatenation
	// in the reducer.
	CollectThenSort Strategy = "collect-then-sort"
)

// DefaultK is the neighbor count used when none is configured.
const DefaultK = 15

// ParseStrategy validates a strategy name. The empty string selects
// PreSortedMerge.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", PreSortedMerge:
		return PreSortedMerge, nil
	case CollectThenSort:
		return CollectThenSort, nil
	}
	return "", errors.Wrapf(ErrUnknownStrategy, "%q", s)
}
