package knn

// ResolveLabel returns the most frequent label among nearest. Labels tied on
// count are decided by their closest member: the label owning the neighbor
// that sorts first by (distance, reference id) wins. The result does not
// depend on the order of nearest.
func ResolveLabel(nearest NeighborSequence) (string, error) {
	if len(nearest) == 0 {
		return "", ErrEmptyNeighborSet
	}

	type tally struct {
		count   int
		closest Neighbor
	}
	tallies := make(map[string]*tally)
	for _, n := range nearest {
		t, ok := tallies[n.Label]
		if !ok {
			tallies[n.Label] = &tally{count: 1, closest: n}
			continue
		}
		t.count++
		if n.Less(t.closest) {
			t.closest = n
		}
	}

	var (
		best string
		bt   *tally
	)
	for label, t := range tallies {
		switch {
		case bt == nil,
			t.count > bt.count,
			t.count == bt.count && t.closest.Less(bt.closest),
			t.count == bt.count && !bt.closest.Less(t.closest) && label < best:
			best, bt = label, t
		}
	}
	return best, nil
}
