package mapreduce

import (
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// mapper runs a map task:
//  1. Read an input shard/file (inFile).
//  2. Call the mapFn on the input.
//  3. Group the output by key and run the combiner, if any, once per key.
//  4. Shuffle the result into r msgpack files, ihash(key) % r.
func mapper(
	jobName string, // Name of the MapReduce job.
	mapTask int, // Id of this map task.
	inFile string, // Input file for this map task.
	r int, // Number of reducers (R in the paper).
	mapFn MapFn,
	combineFn CombineFn, // Optional.
) error {
	glog.V(1).Infof("Mapper %d for %s processing %s for %d shards",
		mapTask, jobName, inFile, r)

	contents, err := os.ReadFile(inFile)
	if err != nil {
		return errors.Wrapf(err, "map task %d", mapTask)
	}

	kvs, err := mapFn(inFile, contents)
	if err != nil {
		return errors.Wrapf(err, "map task %d on %s", mapTask, inFile)
	}

	if combineFn != nil {
		kvs, err = combine(kvs, combineFn)
		if err != nil {
			return errors.Wrapf(err, "map task %d on %s", mapTask, inFile)
		}
	}

	shards := make([][]KeyValue, r)
	for _, kv := range kvs {
		id := ihash(kv.Key) % r
		shards[id] = append(shards[id], kv)
	}

	// Every reducer expects a file from every mapper, even an empty one.
	for i, shard := range shards {
		if err := writeKVs(reduceName(jobName, mapTask, i), shard); err != nil {
			return errors.Wrapf(err, "map task %d", mapTask)
		}
	}

	glog.V(1).Infof("Mapper %d for %s done with %s (%d records)", mapTask, jobName, inFile, len(kvs))
	return nil
}

// combine groups kvs by key in first-seen order and replaces each group with
// the combiner's output.
func combine(kvs []KeyValue, combineFn CombineFn) ([]KeyValue, error) {
	var keys []string
	groups := make(map[string][][]byte)
	for _, kv := range kvs {
		if _, ok := groups[kv.Key]; !ok {
			keys = append(keys, kv.Key)
		}
		groups[kv.Key] = append(groups[kv.Key], kv.Value)
	}

	out := make([]KeyValue, 0, len(keys))
	for _, k := range keys {
		values, err := combineFn(k, groups[k])
		if err != nil {
			return nil, errors.Wrapf(err, "combine key %s", k)
		}
		for _, v := range values {
			out = append(out, KeyValue{Key: k, Value: v})
		}
	}
	return out, nil
}
