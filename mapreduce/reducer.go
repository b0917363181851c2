package mapreduce

import (
	"sort"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// reducer runs a reduce task:
//  1. Read all the input shards for the task.
//  2. Group the values by key, keeping map task order within a key.
//  3. Call the reduceFn for each key, in key order.
//  4. Write the reduceFn's output, and the keys it gave up on, to files.
func reducer(
	jobName string, // MapReduce job name.
	reduceTask int, // ID of the reducer task.
	outFile string, // Output file to write.
	m int, // Number of mappers (M in the paper).
	reduceFn ReduceFn, // Reduce function to run.
	skipKey SkipKey, // Optional; nil means every reduceFn error is fatal.
) error {
	glog.V(1).Infof("Reducer %d for %s processing %d input shards to %s",
		reduceTask, jobName, m, outFile)

	groups := make(map[string][][]byte)
	for i := 0; i < m; i++ {
		kvs, err := readKVs(reduceName(jobName, i, reduceTask))
		if err != nil {
			return errors.Wrapf(err, "reduce task %d", reduceTask)
		}
		for _, kv := range kvs {
			groups[kv.Key] = append(groups[kv.Key], kv.Value)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out, skipped []KeyValue
	for _, k := range keys {
		v, err := reduceFn(k, groups[k])
		if err != nil {
			if skipKey != nil && skipKey(k, err) {
				glog.Warningf("Reducer %d for %s skipping key %s: %v", reduceTask, jobName, k, err)
				skipped = append(skipped, KeyValue{Key: k, Value: []byte(err.Error())})
				continue
			}
			return errors.Wrapf(err, "reduce task %d, key %s", reduceTask, k)
		}
		out = append(out, KeyValue{Key: k, Value: v})
	}

	if err := writeKVs(outFile, out); err != nil {
		return errors.Wrapf(err, "reduce task %d", reduceTask)
	}
	if err := writeKVs(skipName(jobName, reduceTask), skipped); err != nil {
		return errors.Wrapf(err, "reduce task %d", reduceTask)
	}

	glog.V(1).Infof("Reducer %d for %s done with %s (%d keys, %d skipped)",
		reduceTask, jobName, outFile, len(out), len(skipped))
	return nil
}
