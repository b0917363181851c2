package knn

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestComputeRanges(t *testing.T) {
	refs := []Sample{
		{ID: 1, Features: []float64{0, 5}, Label: "A"},
		{ID: 2, Features: []float64{10, -5}, Label: "B"},
		{ID: 3, Features: []float64{4, 0}, Label: "A"},
	}
	ranges, err := ComputeRanges(refs)
	require.NoError(t, err)
	require.Equal(t, []FeatureRange{{Min: 0, Max: 10}, {Min: -5, Max: 5}}, ranges)

	for _, ref := range refs {
		n, err := NormalizeFeatures(ref.Features, ranges)
		require.NoError(t, err)
		for _, v := range n {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestNormalizeQueryOutsideRange(t *testing.T) {
	r := FeatureRange{Min: 0, Max: 10}

	v, err := r.Normalize(15)
	require.NoError(t, err)
	require.InDelta(t, 1.5, v, 1e-12)

	v, err = r.Normalize(-5)
	require.NoError(t, err)
	require.InDelta(t, -0.5, v, 1e-12)
}

func TestDegenerateFeatureRange(t *testing.T) {
	_, err := FeatureRange{Min: 2.0, Max: 2.0}.Normalize(2.0)
	require.True(t, errors.Is(err, ErrDegenerateFeatureRange), err)

	_, err = ComputeRanges([]Sample{
		{ID: 1, Features: []float64{2.0, 1}, Label: "A"},
		{ID: 2, Features: []float64{2.0, 3}, Label: "B"},
	})
	require.True(t, errors.Is(err, ErrDegenerateFeatureRange), err)
	require.False(t, IsQueryError(err))
}

func TestComputeRangesErrors(t *testing.T) {
	_, err := ComputeRanges(nil)
	require.True(t, errors.Is(err, ErrEmptyReferenceSet), err)

	_, err = ComputeRanges([]Sample{
		{ID: 1, Features: []float64{1, 2}, Label: "A"},
		{ID: 2, Features: []float64{3}, Label: "B"},
	})
	require.True(t, errors.Is(err, ErrDimensionMismatch), err)

	_, err = NormalizeFeatures([]float64{1, 2, 3}, []FeatureRange{{Min: 0, Max: 1}})
	require.True(t, errors.Is(err, ErrDimensionMismatch), err)
}
