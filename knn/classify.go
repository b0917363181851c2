package knn

import (
	"os"
	"sort"
	"strconv"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"knnmr/mapreduce"
)

// Config configures Classify.
type Config struct {
	K            int
	Strategy     Strategy
	Partitions   int // Map tasks; capped at the number of references.
	ReduceShards int
	Parallelism  int    // Concurrent tasks and concurrent queries per task; <= 0 means NumCPU.
	JobName      string // Defaults to a unique name.
	Metrics      *Metrics
}

// QueryFailure is a query that produced no prediction.
type QueryFailure struct {
	QueryID int64
	Err     error
}

// Report is the outcome of a run. Both lists are sorted by query id.
type Report struct {
	Predictions []Prediction
	Skipped     []QueryFailure
}

// NewJobName returns a job name no other run shares, so concurrent runs never
// collide on intermediate files.
func NewJobName() string {
	return "knn-" + uuid.New().String()
}

// Runner starts a mapreduce, either mapreduce.LocalMapReduce or a
// distributed manager.
type Runner func(spec mapreduce.MapReduceSpec) *mapreduce.Manager

// Classify runs the whole pipeline in-process on top of
// mapreduce.LocalMapReduce. Structural errors abort the run; per-query
// errors end up in Report.Skipped.
func Classify(samples []Sample, cfg Config) (*Report, error) {
	return Run(samples, cfg, mapreduce.LocalMapReduce)
}

// Run plans the partitions, hands them to the mapreduce started by run and
// collects the report.
func Run(samples []Sample, cfg Config, run Runner) (*Report, error) {
	if cfg.JobName == "" {
		cfg.JobName = NewJobName()
	}
	if cfg.ReduceShards <= 0 {
		return nil, errors.Errorf("reduce shards must be positive, got %d", cfg.ReduceShards)
	}

	parts, queries, err := Plan(samples, PlanOptions{
		Partitions: cfg.Partitions,
		K:          cfg.K,
		Strategy:   cfg.Strategy,
	})
	if errors.Is(err, ErrEmptyReferenceSet) {
		glog.Warningf("Job %s: no reference samples, %d queries cannot be classified",
			cfg.JobName, len(queries))
		return EmptyReferenceReport(queries, cfg.Metrics), nil
	}
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		glog.Infof("Job %s: nothing to classify", cfg.JobName)
		return &Report{}, nil
	}

	dir, err := os.MkdirTemp("", cfg.JobName)
	if err != nil {
		return nil, errors.Wrap(err, "partition dir")
	}
	defer os.RemoveAll(dir)

	files, err := WritePartitions(dir, cfg.JobName, parts)
	if err != nil {
		return nil, err
	}

	job := NewJob(cfg.Metrics, cfg.Parallelism)
	// Plan resolved and validated the strategy; every partition carries it.
	mr := run(job.Spec(cfg.JobName, files, cfg.ReduceShards, cfg.Parallelism, parts[0].Strategy))
	res := mr.Wait()
	defer func() {
		if err := mr.Cleanup(); err != nil {
			glog.Errorf("Job %s: cleanup: %v", cfg.JobName, err)
		}
	}()

	return DecodeResult(res)
}

// EmptyReferenceReport reports every query as failed with
// ErrEmptyReferenceSet.
func EmptyReferenceReport(queries []Sample, metrics *Metrics) *Report {
	r := &Report{}
	for _, q := range queries {
		err := errors.Wrapf(ErrEmptyReferenceSet, "query %d", q.ID)
		metrics.querySkipped(err)
		r.Skipped = append(r.Skipped, QueryFailure{QueryID: q.ID, Err: err})
	}
	sort.Slice(r.Skipped, func(i, j int) bool { return r.Skipped[i].QueryID < r.Skipped[j].QueryID })
	return r
}

// DecodeResult turns the output of a knn mapreduce into a Report.
func DecodeResult(res mapreduce.MapReduceResult) (*Report, error) {
	if res.Err != nil {
		return nil, res.Err
	}

	r := &Report{Predictions: make([]Prediction, 0, len(res.Output))}
	for _, kv := range res.Output {
		id, err := strconv.ParseInt(kv.Key, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "output key %q", kv.Key)
		}
		r.Predictions = append(r.Predictions, Prediction{QueryID: id, Label: string(kv.Value)})
	}
	for _, kv := range res.Skipped {
		id, err := strconv.ParseInt(kv.Key, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "skipped key %q", kv.Key)
		}
		failure := QueryFailure{QueryID: id, Err: queryErrorFromMessage(string(kv.Value))}
		glog.Warningf("Query %d not classified: %v", id, failure.Err)
		r.Skipped = append(r.Skipped, failure)
	}

	sort.Slice(r.Predictions, func(i, j int) bool { return r.Predictions[i].QueryID < r.Predictions[j].QueryID })
	sort.Slice(r.Skipped, func(i, j int) bool { return r.Skipped[i].QueryID < r.Skipped[j].QueryID })
	return r, nil
}
