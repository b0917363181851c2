package knn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Distance returns the Euclidean distance between two already-normalized
// feature vectors of equal length. It is safe for concurrent use.
func Distance(query, reference []float64) (float64, error) {
	if len(query) != len(reference) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "query has %d features, reference has %d",
			len(query), len(reference))
	}
	return floats.Distance(query, reference, 2), nil
}

// neighborOf evaluates one (query, reference) pair.
func neighborOf(query []float64, ref Sample, refFeatures []float64) (Neighbor, error) {
	d, err := Distance(query, refFeatures)
	if err != nil {
		return Neighbor{}, errors.Wrapf(err, "reference %d", ref.ID)
	}
	return Neighbor{ReferenceID: ref.ID, Label: ref.Label, Distance: d}, nil
}
