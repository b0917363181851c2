package knn

import (
	"context"
	"strconv"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"knnmr/mapreduce"
)

// Job binds the knn stages to the mapreduce substrate: Map is the partition
// scanner, Combine the local top-sorter and Reduce the global merge-selector
// followed by the majority vote. Everything else a task needs travels inside
// the partition files, so one Job serves every configuration.
type Job struct {
	metrics     *Metrics
	parallelism int
}

// NewJob returns a Job. metrics may be nil. parallelism bounds the concurrent
// queries scanned inside one map task.
func NewJob(metrics *Metrics, parallelism int) *Job {
	return &Job{metrics: metrics, parallelism: parallelism}
}

// Map scans one partition file and emits one fragment per query, keyed by
// query id.
func (j *Job) Map(filename string, contents []byte) ([]mapreduce.KeyValue, error) {
	p, err := DecodePartition(contents)
	if err != nil {
		return nil, errors.Wrap(err, filename)
	}

	fragments, err := Scan(context.Background(), p, j.parallelism)
	if err != nil {
		return nil, err
	}

	kvs := make([]mapreduce.KeyValue, len(fragments))
	for i := range fragments {
		b, err := encodeFragment(&fragments[i])
		if err != nil {
			return nil, err
		}
		kvs[i] = mapreduce.KeyValue{Key: queryKey(fragments[i].Query), Value: b}
	}
	j.metrics.partitionScanned(len(p.Queries) * len(p.References))
	glog.V(1).Infof("Partition %d/%d: %d queries x %d references",
		p.Index, p.Of, len(p.Queries), len(p.References))
	return kvs, nil
}

// Combine sorts the fragments of a query produced by one map task when their
// partition asked for pre-sorted merging. It never truncates.
func (j *Job) Combine(key string, values [][]byte) ([][]byte, error) {
	out := make([][]byte, len(values))
	for i, v := range values {
		f, err := decodeFragment(v)
		if err != nil {
			return nil, errors.Wrapf(err, "query %s", key)
		}
		if !f.Presort || f.Sorted {
			out[i] = v
			continue
		}
		f.Neighbors = SortLocal(f.Neighbors)
		f.Sorted = true
		if out[i], err = encodeFragment(f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Reduce selects the k nearest neighbors of a query from one fragment per
// partition and votes on them. It returns the label.
func (j *Job) Reduce(key string, values [][]byte) ([]byte, error) {
	fragments := make([]*Fragment, len(values))
	for i, v := range values {
		f, err := decodeFragment(v)
		if err != nil {
			return nil, errors.Wrapf(err, "query %s", key)
		}
		fragments[i] = f
	}

	label, err := j.reduceFragments(fragments)
	if err != nil {
		err = errors.Wrapf(err, "query %s", key)
		if IsQueryError(err) {
			j.metrics.querySkipped(err)
		}
		return nil, err
	}
	j.metrics.queryClassified()
	return []byte(label), nil
}

func (j *Job) reduceFragments(fragments []*Fragment) (string, error) {
	if err := checkComplete(fragments); err != nil {
		return "", err
	}

	k := fragments[0].K
	presorted := true
	seqs := make([]NeighborSequence, len(fragments))
	for i, f := range fragments {
		presorted = presorted && f.Sorted
		seqs[i] = f.Neighbors
	}

	strategy := CollectThenSort
	if presorted {
		strategy = PreSortedMerge
	}
	j.metrics.fragmentsMerged(strategy, len(fragments))

	nearest, err := SelectKNearest(seqs, k, presorted)
	if err != nil {
		return "", err
	}
	return ResolveLabel(nearest)
}

// checkComplete verifies the reducer holds exactly one fragment from each of
// the partitions of the run, all agreeing on the run's shape.
func checkComplete(fragments []*Fragment) error {
	if len(fragments) == 0 {
		return errors.Wrap(ErrIncompleteFragmentSet, "no fragments")
	}
	of, k := fragments[0].Of, fragments[0].K
	if of <= 0 {
		return errors.Wrapf(ErrIncompleteFragmentSet, "fragment claims %d partitions", of)
	}
	seen := make([]bool, of)
	for _, f := range fragments {
		if f.Of != of || f.K != k {
			return errors.Wrapf(ErrIncompleteFragmentSet,
				"fragments disagree on the run: %d/%d partitions, k %d/%d", f.Of, of, f.K, k)
		}
		if f.Partition < 0 || f.Partition >= of {
			return errors.Wrapf(ErrIncompleteFragmentSet, "partition %d out of %d", f.Partition, of)
		}
		if seen[f.Partition] {
			return errors.Wrapf(ErrIncompleteFragmentSet, "duplicate fragment from partition %d", f.Partition)
		}
		seen[f.Partition] = true
	}
	if len(fragments) != of {
		return errors.Wrapf(ErrIncompleteFragmentSet, "got %d of %d fragments", len(fragments), of)
	}
	return nil
}

// SkipKey drops queries that failed on their own and fails the job on
// anything else.
func SkipKey(key string, err error) bool {
	return IsQueryError(err)
}

// Spec builds the mapreduce spec for a run over partition files. The combiner
// is only wired for PreSortedMerge.
func (j *Job) Spec(jobName string, files []string, reduceShards, parallelism int, strategy Strategy) mapreduce.MapReduceSpec {
	spec := mapreduce.MapReduceSpec{
		JobName:     jobName,
		Files:       files,
		R:           reduceShards,
		Parallelism: parallelism,
		MapFn:       j.Map,
		ReduceFn:    j.Reduce,
		SkipKey:     SkipKey,
	}
	if strategy == PreSortedMerge {
		spec.CombineFn = j.Combine
	}
	return spec
}

// WorkerConfig is the configuration for a distributed worker. Combine is
// always wired; it leaves fragments alone unless their partition asked for
// pre-sorting.
func (j *Job) WorkerConfig() mapreduce.WorkerConfig {
	return mapreduce.WorkerConfig{
		MapFn:     j.Map,
		CombineFn: j.Combine,
		ReduceFn:  j.Reduce,
		SkipKey:   SkipKey,
	}
}

func queryKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func encodeFragment(f *Fragment) ([]byte, error) {
	b, err := msgpack.Marshal(f)
	return b, errors.Wrapf(err, "encode fragment for query %d", f.Query)
}

func decodeFragment(b []byte) (*Fragment, error) {
	var f Fragment
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "decode fragment")
	}
	return &f, nil
}
