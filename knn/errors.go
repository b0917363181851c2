package knn

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrDimensionMismatch: two feature vectors of different length met.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
	// ErrDegenerateFeatureRange: a reference feature column has min == max, so
	// min-max normalization is undefined.
	ErrDegenerateFeatureRange = errors.New("degenerate feature range")
	// ErrEmptyReferenceSet: a query has no candidate neighbors at all.
	ErrEmptyReferenceSet = errors.New("empty reference set")
	// ErrEmptyNeighborSet: a vote was requested over zero neighbors.
	ErrEmptyNeighborSet = errors.New("empty neighbor set")
	// ErrIncompleteFragmentSet: the reducer did not get exactly one fragment
	// from every partition.
	ErrIncompleteFragmentSet = errors.New("incomplete fragment set")
	// ErrDuplicateSampleID: two input samples share an id. Query ids key the
	// reducer and reference ids order equidistant neighbors, so both must be
	// unique across the whole input.
	ErrDuplicateSampleID = errors.New("duplicate sample id")

	ErrInvalidK        = errors.New("k must be positive")
	ErrUnknownStrategy = errors.New("unknown selection strategy")
)

// IsQueryError reports whether err only invalidates the query it was raised
// for. Any other error invalidates the whole run.
func IsQueryError(err error) bool {
	return errors.Is(err, ErrEmptyReferenceSet) || errors.Is(err, ErrEmptyNeighborSet)
}

// queryError carries a per-query failure whose message crossed a process or
// file boundary, keeping errors.Is working against the sentinels.
type queryError struct {
	msg  string
	kind error
}

func (e *queryError) Error() string { return e.msg }

func (e *queryError) Unwrap() error { return e.kind }

// queryErrorFromMessage rebuilds a per-query error from its message.
func queryErrorFromMessage(msg string) error {
	for _, kind := range []error{ErrEmptyReferenceSet, ErrEmptyNeighborSet} {
		if strings.Contains(msg, kind.Error()) {
			return &queryError{msg: msg, kind: kind}
		}
	}
	return errors.New(msg)
}
