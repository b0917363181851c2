package knn

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func n(d float64, id int64, label string) Neighbor {
	return Neighbor{ReferenceID: id, Label: label, Distance: d}
}

// randomFragments builds fragments whose distances collide often, so that the
// reference id tie-break is exercised.
func randomFragments(rnd *rand.Rand, f, maxLen int) []NeighborSequence {
	labels := []string{"X", "Y", "Z"}
	var id int64
	out := make([]NeighborSequence, f)
	for i := range out {
		l := rnd.Intn(maxLen + 1)
		for j := 0; j < l; j++ {
			id++
			out[i] = append(out[i], n(float64(rnd.Intn(8))/4, id*7%101, labels[rnd.Intn(len(labels))]))
		}
	}
	return out
}

func sortedCopies(fragments []NeighborSequence) []NeighborSequence {
	out := make([]NeighborSequence, len(fragments))
	for i, f := range fragments {
		out[i] = SortLocal(f)
	}
	return out
}

func TestSelectKNearestStrategiesAgree(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		fragments := randomFragments(rnd, 1+rnd.Intn(6), 12)
		total := 0
		for _, f := range fragments {
			total += len(f)
		}
		if total == 0 {
			continue
		}
		k := 1 + rnd.Intn(total+3)

		naive, err := SelectKNearest(fragments, k, false)
		require.NoError(t, err)
		merged, err := SelectKNearest(sortedCopies(fragments), k, true)
		require.NoError(t, err)

		require.Equal(t, naive, merged, "iteration %d, k=%d", iter, k)
		require.Len(t, merged, min(k, total))
		require.True(t, merged.IsSorted())
	}
}

func TestSelectKNearestThreeFragments(t *testing.T) {
	fragments := []NeighborSequence{
		{n(1.0, 5, "X")},
		{n(0.5, 7, "Y")},
		{n(2.0, 9, "X")},
	}
	for _, presorted := range []bool{true, false} {
		got, err := SelectKNearest(fragments, 2, presorted)
		require.NoError(t, err)
		require.Equal(t, NeighborSequence{n(0.5, 7, "Y"), n(1.0, 5, "X")}, got)
	}
}

func TestSelectKNearestTieBreakByReferenceID(t *testing.T) {
	fragments := []NeighborSequence{
		{n(1, 30, "A"), n(1, 31, "A")},
		{n(1, 10, "B")},
		{n(1, 20, "C"), n(2, 1, "C")},
	}
	want := NeighborSequence{n(1, 10, "B"), n(1, 20, "C"), n(1, 30, "A")}

	for _, presorted := range []bool{true, false} {
		got, err := SelectKNearest(fragments, 3, presorted)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// Same candidates in one reversed fragment.
	got, err := SelectKNearest([]NeighborSequence{{n(2, 1, "C"), n(1, 31, "A"), n(1, 30, "A"), n(1, 20, "C"), n(1, 10, "B")}}, 3, false)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSelectKNearestEqualCandidatesAcrossFragments(t *testing.T) {
	dup := n(1, 4, "A")
	got, err := SelectKNearest([]NeighborSequence{{dup}, {dup}, {n(0.5, 9, "B")}}, 3, true)
	require.NoError(t, err)
	require.Equal(t, NeighborSequence{n(0.5, 9, "B"), dup, dup}, got)
}

func TestSelectKNearestKExceedsCandidates(t *testing.T) {
	fragments := []NeighborSequence{{n(1, 1, "A")}, {}, {n(0.2, 2, "B")}}
	got, err := SelectKNearest(fragments, 10, true)
	require.NoError(t, err)
	require.Equal(t, NeighborSequence{n(0.2, 2, "B"), n(1, 1, "A")}, got)
}

func TestSelectKNearestErrors(t *testing.T) {
	_, err := SelectKNearest([]NeighborSequence{{}, nil}, 3, true)
	require.True(t, errors.Is(err, ErrEmptyReferenceSet), err)
	require.True(t, IsQueryError(err))

	_, err = SelectKNearest(nil, 3, false)
	require.True(t, errors.Is(err, ErrEmptyReferenceSet), err)

	_, err = SelectKNearest([]NeighborSequence{{n(1, 1, "A")}}, 0, true)
	require.True(t, errors.Is(err, ErrInvalidK), err)
}

func TestMergeDoesNotMutateFragments(t *testing.T) {
	fragments := []NeighborSequence{{n(0.1, 1, "A"), n(0.3, 3, "A")}, {n(0.2, 2, "B")}}
	before := []NeighborSequence{append(NeighborSequence(nil), fragments[0]...), append(NeighborSequence(nil), fragments[1]...)}

	_, err := SelectKNearest(fragments, 2, true)
	require.NoError(t, err)
	require.Equal(t, before, fragments)
}

func TestSortLocal(t *testing.T) {
	in := NeighborSequence{n(3, 1, "A"), n(1, 9, "B"), n(1, 2, "C"), n(0, 5, "A")}
	got := SortLocal(in)
	require.Equal(t, NeighborSequence{n(0, 5, "A"), n(1, 2, "C"), n(1, 9, "B"), n(3, 1, "A")}, got)
	require.Len(t, got, len(in), "local sort never truncates")
	require.Equal(t, n(3, 1, "A"), in[0], "input left untouched")

	require.Equal(t, got, SortLocal(got), "sorting a sorted sequence is the identity")
	require.Empty(t, SortLocal(nil))
}
