package knn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// FeatureRange is the observed [Min, Max] of one feature over the reference
// set. Query values outside the range normalize outside [0, 1].
type FeatureRange struct {
	Min float64 `msgpack:"min"`
	Max float64 `msgpack:"max"`
}

// Normalize maps v into the range's unit interval.
func (r FeatureRange) Normalize(v float64) (float64, error) {
	if r.Max == r.Min {
		return 0, errors.Wrapf(ErrDegenerateFeatureRange, "min = max = %v", r.Min)
	}
	return (v - r.Min) / (r.Max - r.Min), nil
}

// ComputeRanges computes the per-feature ranges over references only. It must
// run to completion before any distance is evaluated.
func ComputeRanges(references []Sample) ([]FeatureRange, error) {
	if len(references) == 0 {
		return nil, ErrEmptyReferenceSet
	}

	dims := len(references[0].Features)
	column := make([]float64, len(references))
	ranges := make([]FeatureRange, dims)
	for f := 0; f < dims; f++ {
		for i, ref := range references {
			if len(ref.Features) != dims {
				return nil, errors.Wrapf(ErrDimensionMismatch,
					"reference %d has %d features, want %d", ref.ID, len(ref.Features), dims)
			}
			column[i] = ref.Features[f]
		}
		ranges[f] = FeatureRange{Min: floats.Min(column), Max: floats.Max(column)}
		if ranges[f].Min == ranges[f].Max {
			return nil, errors.Wrapf(ErrDegenerateFeatureRange, "feature %d is constant (%v)", f, ranges[f].Min)
		}
	}
	return ranges, nil
}

// NormalizeFeatures min-max normalizes features into a new slice.
func NormalizeFeatures(features []float64, ranges []FeatureRange) ([]float64, error) {
	if len(features) != len(ranges) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d features, %d ranges", len(features), len(ranges))
	}
	out := make([]float64, len(features))
	for i, v := range features {
		n, err := ranges[i].Normalize(v)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %d", i)
		}
		out[i] = n
	}
	return out, nil
}
