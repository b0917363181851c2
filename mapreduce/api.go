package mapreduce

import (
	"hash/fnv"
	"io"
	"net/rpc"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Data types, utility functions, and RPC request/responses.

const (
	fprefix string = "mrtmp." // Prefix used for all output.
)

// A KeyValue pairs a string key with an opaque, job-encoded value.
type KeyValue struct {
	Key   string `msgpack:"k"`
	Value []byte `msgpack:"v"`
}

// Job-supplied functions. MapFn and ReduceFn are required; CombineFn and
// SkipKey may be nil.
type (
	// MapFn turns one input file into key/value pairs.
	MapFn func(filename string, contents []byte) ([]KeyValue, error)
	// CombineFn pre-reduces the values a single map task produced for a key.
	CombineFn func(key string, values [][]byte) ([][]byte, error)
	// ReduceFn receives every value for a key, in map task order.
	ReduceFn func(key string, values [][]byte) ([]byte, error)
	// SkipKey decides whether a ReduceFn error only drops the key (true) or
	// fails the whole reduce task (false).
	SkipKey func(key string, err error) bool
)

// mrPhase is the phase of the mapreduce.
type mrPhase int

const (
	mapPhase    mrPhase = 0
	reducePhase mrPhase = 1
)

func (p mrPhase) String() string {
	switch p {
	case mapPhase:
		return "map"
	case reducePhase:
		return "reduce"
	}
	return "phase(" + strconv.Itoa(int(p)) + ")"
}

// ------------ Utility Functions ------------

// Hash function used for partitioning output.
func ihash(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}

// Returns the name of the intermediate file that a map task produces for a
// reduce task.
func reduceName(jobName string, mapTask int, reduceTask int) string {
	return fprefix + jobName + "-" + strconv.Itoa(mapTask) + "-" + strconv.Itoa(reduceTask)
}

// mergeName constructs the name of the output file for a reduce task.
func mergeName(jobName string, reduceTask int) string {
	return fprefix + jobName + "-res-" + strconv.Itoa(reduceTask)
}

// skipName constructs the name of the file listing the keys a reduce task
// dropped, together with the reason.
func skipName(jobName string, reduceTask int) string {
	return fprefix + jobName + "-skip-" + strconv.Itoa(reduceTask)
}

// Utility function to die if an error is not nil.
func dieIfError(err error) {
	if err != nil {
		glog.Fatalln("Fatal: ", err)
	}
}

// writeKVs encodes kvs as a msgpack stream into a freshly created file.
func writeKVs(fn string, kvs []KeyValue) error {
	f, err := os.Create(fn)
	if err != nil {
		return errors.Wrapf(err, "create %s", fn)
	}
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(f)
	for i := range kvs {
		if err := enc.Encode(&kvs[i]); err != nil {
			f.Close()
			return errors.Wrapf(err, "encode %s", fn)
		}
	}
	return errors.Wrapf(f.Close(), "close %s", fn)
}

// readKVs decodes a msgpack stream written by writeKVs.
func readKVs(fn string) ([]KeyValue, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", fn)
	}
	defer f.Close()

	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(f)

	var kvs []KeyValue
	for {
		var kv KeyValue
		err := dec.Decode(&kv)
		if err == io.EOF {
			return kvs, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", fn)
		}
		kvs = append(kvs, kv)
	}
}

// ------------ RPC Request/Responses ------------

// Worker call a Register RPC with a RegisterRequest to register themselves with
// the manager.
type RegisterRequest struct {
	Address string // RPC address of the worker, used by the manager to give out work.
}

// Empty RegisterReply; a non-error RPC means the worker is registered with the
// manager.
type RegisterReply struct {
}

// The manager calls a Shutdown RPC on workers to tell them the MR is over and
// they should shut down.
type ShutdownRequest struct {
}

// Workers reply to shutdown requests with the number of tasks they have worked
// on in their lifetime.
type ShutdownReply struct {
	Tasks int
}

// Manager calls a DoWork RPC on the worker to give it a map or reduce task. The
// RPC blocks until the work is complete.
type WorkRequest struct {
	Phase    mrPhase // Either mapPhase or reducePhase.
	JobName  string  // The name of the mapreduce job.
	TaskId   int     // For map, which mapper this worker is. For reduce, which reducer this worker is.
	File     string  // For map, the input file to read. For reducer, ignored.
	NumOther int     // For map, the total number of reducers. For reduce, the total number of mappers.
}

// The reply is empty; a non-error RPC means the task was successful.
type WorkReply struct {
}

// ------------ Implementation Details Utility Functions ------------

// Function that wraps calling an RPC so that every call site doesn't require
// the same logging. A returned rpc.ServerError means the remote method ran and
// failed; any other error means the endpoint could not be reached.
func call(endpoint string, fn string, req interface{}, rep interface{}) error {
	c, err := rpc.Dial("unix", endpoint)
	if err != nil {
		glog.Errorln(err)
		return err
	}

	defer c.Close()
	err = c.Call(fn, req, rep)
	if err != nil {
		glog.Errorln(err)
		return err
	}
	return nil
}

// isTaskError reports whether err came back from a worker that executed the
// task and failed it, as opposed to a transport failure.
func isTaskError(err error) bool {
	var serr rpc.ServerError
	return errors.As(err, &serr)
}
