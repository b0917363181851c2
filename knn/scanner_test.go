package knn

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	p := &Partition{
		Index:    1,
		Of:       2,
		K:        3,
		Strategy: PreSortedMerge,
		Ranges:   []FeatureRange{{Min: 0, Max: 10}, {Min: 0, Max: 10}},
		Queries:  []Sample{sample(9, "", 0, 0), sample(10, "", 10, 0)},
		References: []Sample{
			sample(1, "A", 10, 10),
			sample(2, "B", 0, 0),
			sample(3, "A", 5, 0),
		},
	}

	fragments, err := Scan(context.Background(), p, 1)
	require.NoError(t, err)
	require.Len(t, fragments, 2)

	f := fragments[0]
	require.Equal(t, int64(9), f.Query)
	require.Equal(t, 1, f.Partition)
	require.Equal(t, 2, f.Of)
	require.Equal(t, 3, f.K)
	require.True(t, f.Presort)
	require.False(t, f.Sorted, "the scanner leaves sorting to the combiner")
	require.Len(t, f.Neighbors, 3, "one candidate per reference")

	want := []Neighbor{n(math.Sqrt2, 1, "A"), n(0, 2, "B"), n(0.5, 3, "A")}
	for i, got := range f.Neighbors {
		require.Equal(t, want[i].ReferenceID, got.ReferenceID)
		require.Equal(t, want[i].Label, got.Label)
		require.InDelta(t, want[i].Distance, got.Distance, 1e-12)
	}

	require.Equal(t, int64(10), fragments[1].Query)
	require.InDelta(t, 1.0, fragments[1].Neighbors[0].Distance, 1e-12)
	require.InDelta(t, 0.5, fragments[1].Neighbors[2].Distance, 1e-12)
}

func TestScanConcurrentMatchesSerial(t *testing.T) {
	p := &Partition{
		Of:       1,
		K:        2,
		Strategy: CollectThenSort,
		Ranges:   []FeatureRange{{Min: -1, Max: 1}},
	}
	for i := 0; i < 50; i++ {
		p.Queries = append(p.Queries, sample(int64(1000+i), "", float64(i)/25-1))
		p.References = append(p.References, sample(int64(i), "A", float64(49-i)/25-1))
	}

	serial, err := Scan(context.Background(), p, 1)
	require.NoError(t, err)
	parallel, err := Scan(context.Background(), p, 8)
	require.NoError(t, err)
	require.Equal(t, serial, parallel)
	for _, f := range parallel {
		require.False(t, f.Presort)
	}
}

func TestScanErrors(t *testing.T) {
	p := &Partition{
		Of:         1,
		K:          1,
		Ranges:     []FeatureRange{{Min: 0, Max: 1}, {Min: 0, Max: 1}},
		Queries:    []Sample{sample(9, "", 0.5)},
		References: []Sample{sample(1, "A", 0, 1)},
	}
	_, err := Scan(context.Background(), p, 2)
	require.True(t, errors.Is(err, ErrDimensionMismatch), err)

	p.Queries = []Sample{sample(9, "", 0.5, 0.5)}
	p.Ranges = []FeatureRange{{Min: 0, Max: 1}, {Min: 3, Max: 3}}
	_, err = Scan(context.Background(), p, 2)
	require.True(t, errors.Is(err, ErrDegenerateFeatureRange), err)
}
