package knn

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Partition is the input of one map task: every query, a disjoint share of the
// references, and the global feature ranges to normalize both with.
type Partition struct {
	Index      int            `msgpack:"index"`
	Of         int            `msgpack:"of"`
	K          int            `msgpack:"k"`
	Strategy   Strategy       `msgpack:"strategy"`
	Ranges     []FeatureRange `msgpack:"ranges"`
	Queries    []Sample       `msgpack:"queries"`
	References []Sample       `msgpack:"references"`
}

// PlanOptions configures Plan.
type PlanOptions struct {
	Partitions int
	K          int
	Strategy   Strategy
}

// Split separates queries from references, preserving input order.
func Split(samples []Sample) (queries, references []Sample) {
	for _, s := range samples {
		if s.IsQuery() {
			queries = append(queries, s)
		} else {
			references = append(references, s)
		}
	}
	return
}

// Plan computes the global feature ranges and deals the references
// round-robin into at most opts.Partitions partitions, never creating a
// partition without references. The ranges are final before any partition
// exists. With no references Plan returns ErrEmptyReferenceSet and the
// queries, so the caller can report each of them.
func Plan(samples []Sample, opts PlanOptions) ([]Partition, []Sample, error) {
	if opts.K <= 0 {
		return nil, nil, errors.Wrapf(ErrInvalidK, "got %d", opts.K)
	}
	if opts.Partitions <= 0 {
		return nil, nil, errors.Errorf("partitions must be positive, got %d", opts.Partitions)
	}
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, nil, err
	}

	if err := checkDimensions(samples); err != nil {
		return nil, nil, err
	}
	if err := checkUniqueIDs(samples); err != nil {
		return nil, nil, err
	}

	queries, references := Split(samples)
	if len(references) == 0 {
		return nil, queries, ErrEmptyReferenceSet
	}

	ranges, err := ComputeRanges(references)
	if err != nil {
		return nil, queries, err
	}

	n := opts.Partitions
	if n > len(references) {
		n = len(references)
	}
	parts := make([]Partition, n)
	for i := range parts {
		parts[i] = Partition{
			Index:    i,
			Of:       n,
			K:        opts.K,
			Strategy: strategy,
			Ranges:   ranges,
			Queries:  queries,
		}
	}
	for i, ref := range references {
		parts[i%n].References = append(parts[i%n].References, ref)
	}

	glog.V(1).Infof("Planned %d partitions for %d queries and %d references",
		n, len(queries), len(references))
	return parts, queries, nil
}

func checkDimensions(samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	dims := len(samples[0].Features)
	for _, s := range samples[1:] {
		if len(s.Features) != dims {
			return errors.Wrapf(ErrDimensionMismatch, "sample %d has %d features, want %d",
				s.ID, len(s.Features), dims)
		}
	}
	return nil
}

func checkUniqueIDs(samples []Sample) error {
	seen := make(map[int64]bool, len(samples))
	for _, s := range samples {
		if seen[s.ID] {
			return errors.Wrapf(ErrDuplicateSampleID, "sample %d", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// EncodePartition serializes p for a map task.
func EncodePartition(p *Partition) ([]byte, error) {
	b, err := msgpack.Marshal(p)
	return b, errors.Wrapf(err, "encode partition %d", p.Index)
}

// DecodePartition is the inverse of EncodePartition.
func DecodePartition(b []byte) (*Partition, error) {
	var p Partition
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrap(err, "decode partition")
	}
	return &p, nil
}

// WritePartitions writes one file per partition into dir and returns their
// paths in partition order.
func WritePartitions(dir, jobName string, parts []Partition) ([]string, error) {
	files := make([]string, 0, len(parts))
	for i := range parts {
		b, err := EncodePartition(&parts[i])
		if err != nil {
			return nil, err
		}
		fn := filepath.Join(dir, jobName+"-part-"+strconv.Itoa(parts[i].Index))
		if err := os.WriteFile(fn, b, 0o644); err != nil {
			return nil, errors.Wrapf(err, "write partition %d", parts[i].Index)
		}
		files = append(files, fn)
	}
	return files, nil
}
