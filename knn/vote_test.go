package knn

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestResolveLabel(t *testing.T) {
	tests := []struct {
		name    string
		nearest NeighborSequence
		want    string
	}{
		{
			name:    "single neighbor",
			nearest: NeighborSequence{n(1, 1, "A")},
			want:    "A",
		},
		{
			name:    "clear majority",
			nearest: NeighborSequence{n(0.1, 1, "B"), n(0.2, 2, "A"), n(0.3, 3, "A")},
			want:    "A",
		},
		{
			name:    "tie goes to the closer label",
			nearest: NeighborSequence{n(0.5, 7, "Y"), n(1.0, 5, "X")},
			want:    "Y",
		},
		{
			name:    "tie decided by closest member, not first seen",
			nearest: NeighborSequence{n(0.4, 1, "A"), n(0.3, 2, "B"), n(0.9, 3, "A"), n(0.95, 4, "B")},
			want:    "B",
		},
		{
			name:    "equal distances fall back to reference id",
			nearest: NeighborSequence{n(1, 8, "A"), n(1, 3, "B")},
			want:    "B",
		},
		{
			name:    "count beats proximity",
			nearest: NeighborSequence{n(0.01, 1, "A"), n(0.5, 2, "B"), n(0.6, 3, "B")},
			want:    "B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLabel(tt.nearest)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveLabelIgnoresOrder(t *testing.T) {
	nearest := NeighborSequence{
		n(0.2, 1, "A"), n(0.3, 2, "B"), n(0.4, 3, "C"),
		n(0.5, 4, "C"), n(0.6, 5, "B"), n(0.7, 6, "A"),
	}
	want, err := ResolveLabel(nearest)
	require.NoError(t, err)
	require.Equal(t, "A", want)

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		shuffled := append(NeighborSequence(nil), nearest...)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := ResolveLabel(shuffled)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestResolveLabelEmpty(t *testing.T) {
	_, err := ResolveLabel(nil)
	require.True(t, errors.Is(err, ErrEmptyNeighborSet), err)
	require.True(t, IsQueryError(err))
}
