package mapreduce

import (
	"net"
	"net/rpc"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Spec of the MapReduce
type MapReduceSpec struct {
	JobName     string    // Name of the job.
	Files       []string  // Input files, one per map task.
	R           int       // Number of reduce shards.
	Parallelism int       // Max concurrent tasks for LocalMapReduce; <= 0 means NumCPU.
	MapFn       MapFn     // Map function.
	CombineFn   CombineFn // Optional combiner, run per key inside each map task.
	ReduceFn    ReduceFn  // Reduce function.
	SkipKey     SkipKey   // Optional; see SkipKey.
}

// Result of a mapreduce. Counters holds the number of tasks executed by each
// worker. Output and Skipped are sorted by key.
type MapReduceResult struct {
	Counters []int
	Output   []KeyValue
	Skipped  []KeyValue // Value holds the error message.
	Err      error      // First task error; Output is empty when set.
}

// The MapReduce Manager.
type Manager struct {
	sync.Mutex            // Make the Manager lock-able.
	cond       *sync.Cond // Must use the Manager mutex as its Locker.

	// Spec of the MapReduce
	spec MapReduceSpec

	address  string   // The manager's address.
	workers  []string // List of worker RPC addresses.
	counters []int    // Worker counters.

	output  []KeyValue
	skipped []KeyValue
	err     error

	done chan bool    // Done channel.
	quit chan bool    // Listen for shutdown (kill).
	l    net.Listener // Listener for RPCs.
}

// Construct a new manager that will listen on the specified address; private
// helper function.
func manager(address string, spec MapReduceSpec) (m *Manager) {
	m = &Manager{
		spec:    spec,
		address: address,
		done:    make(chan bool, 1),
		quit:    make(chan bool)}
	m.cond = sync.NewCond(m)
	return
}

// Run a local mapreduce with the given specification. Tasks of a phase run
// concurrently, at most spec.Parallelism at a time; the reduce phase starts
// only once every map task has finished.
func LocalMapReduce(spec MapReduceSpec) (m *Manager) {
	m = manager("manager", spec)
	parallelism := spec.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	go m.mr(func(phase mrPhase) error {
		var g errgroup.Group
		g.SetLimit(parallelism)
		switch phase {
		case mapPhase:
			for i, f := range m.spec.Files {
				i, f := i, f
				g.Go(func() error {
					return mapper(m.spec.JobName, i, f, m.spec.R, m.spec.MapFn, m.spec.CombineFn)
				})
			}
		case reducePhase:
			for i := 0; i < m.spec.R; i++ {
				i := i
				g.Go(func() error {
					return reducer(m.spec.JobName, i, mergeName(m.spec.JobName, i),
						len(m.spec.Files), m.spec.ReduceFn, m.spec.SkipKey)
				})
			}
		}
		return g.Wait()
	}, func() {
		m.counters = []int{len(m.spec.Files) + m.spec.R}
	})
	return
}

// Run a distributed mapreduce. The manager will listen on the given address for
// workers to register.
func MapReduce(address string, spec MapReduceSpec) (m *Manager) {
	m = manager(address, spec)
	m.start() // Begin listening for RPCs and forwarding them to the task scheduler.
	go m.mr(
		func(phase mrPhase) error {
			c := make(chan string)
			stop := make(chan struct{})
			go m.forward(c, stop)                 // Forward worker registrations to the task scheduler.
			err := executePhase(m.spec, phase, c) // Run the task scheduler.
			m.stopForwarding(stop)                // The next phase gets its own forwarder.
			return err
		},
		func() {
			m.counters = m.shutdownWorkers()
			m.stop()
		})
	return
}

// Waits for a mapreduce to complete. Returns the counters, the merged output
// and the first error of the run, if any.
func (m *Manager) Wait() (r MapReduceResult) {
	<-m.done
	r.Counters = m.counters
	r.Output = m.output
	r.Skipped = m.skipped
	r.Err = m.err
	return
}

// Run a mapreduce. The scheduler function should be capable of scheduling a
// map/reduce phase. It will be called twice: once to schedule the map stage and
// once to schedule the reduce phase. The reduce phase is not scheduled if the
// map phase failed. The done function is called once after the reduce phase,
// whether or not the job succeeded.
func (m *Manager) mr(scheduler func(phase mrPhase) error, done func()) {
	glog.Infof("Starting MapReduce job: %s", m.spec.JobName)

	err := scheduler(mapPhase)
	if err == nil {
		err = scheduler(reducePhase)
	}
	if err == nil {
		err = m.merge()
	}
	m.err = err
	done()

	if err != nil {
		glog.Errorf("MapReduce %s failed: %v", m.spec.JobName, err)
	} else {
		glog.Infof("MapReduce %s done.", m.spec.JobName)
	}

	m.done <- true
}

// RPC called by workers when registering to work.
func (m *Manager) Register(req *RegisterRequest, rep *RegisterReply) (err error) {
	m.Lock()
	defer m.Unlock()

	glog.V(1).Infof("Registering worker at %s", req.Address)
	// Add worker to list of pending workers.
	m.workers = append(m.workers, req.Address)
	// Notify that a worker has arrived.
	m.cond.Broadcast()
	return
}

// Function that forwards worker registrations to the scheduler, starting with
// the workers already registered. Returns once stop is closed, even if the
// scheduler stopped reading wc.
func (m *Manager) forward(wc chan string, stop chan struct{}) {
	i := 0
	for {
		m.Lock()
		// Wait for a new worker to register. Woken by Broadcast, from Register
		// or stopForwarding.
		for len(m.workers) <= i && !closed(stop) {
			m.cond.Wait()
		}
		if closed(stop) {
			m.Unlock()
			return
		}
		w := m.workers[i]
		i = i + 1
		m.Unlock()

		// Forward worker outside the lock.
		select {
		case wc <- w:
		case <-stop:
			return
		}
	}
}

// stopForwarding ends a forward loop started with the same stop channel.
func (m *Manager) stopForwarding(stop chan struct{}) {
	m.Lock()
	defer m.Unlock()
	close(stop)
	m.cond.Broadcast()
}

func closed(c chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

// ------ RPC based Manager -------

// Makes the manager start listening on its provided address.
func (m *Manager) start() {
	r := rpc.NewServer()
	r.Register(m)
	os.Remove(m.address)
	l, e := net.Listen("unix", m.address)
	dieIfError(e)
	m.l = l

	// Serve on separate thread.
	go func() {
	loop:
		for {
			select {
			case <-m.quit:
				break loop
			default:
			}
			c, e := m.l.Accept()
			if e != nil {
				glog.V(2).Infoln("Manager accept error: ", e)
				break
			}
			go func() {
				r.ServeConn(c)
				c.Close()
			}()
		}
		glog.V(2).Infoln("Manager done.")
	}()
}

// Stops and shuts down the manager. Exposed as an RPC.
func (m *Manager) Shutdown(req *ShutdownRequest, rep *ShutdownReply) (err error) {
	glog.V(1).Infof("Shutting down Manager for %s", m.spec.JobName)
	close(m.quit)
	m.l.Close()
	return nil
}

// Stops a listening manager by issuing a Shutdown rpc.
func (m *Manager) stop() {
	var reply ShutdownReply
	if err := call(m.address, "Manager.Shutdown", &ShutdownRequest{}, &reply); err != nil {
		glog.Errorf("Error on shutdown for %s: %v", m.spec.JobName, err)
	}
	glog.V(2).Infof("Manager for %s shut down.", m.spec.JobName)
}

// Issues a shutdown RPC to workers, which should cause them to exit.
func (m *Manager) shutdownWorkers() (counters []int) {
	m.Lock()
	defer m.Unlock()
	counters = make([]int, 0, len(m.workers))
	for _, w := range m.workers {
		glog.V(2).Infof("Shutting down worker %s...", w)
		var reply ShutdownReply
		if err := call(w, "Worker.Shutdown", &ShutdownRequest{}, &reply); err != nil {
			glog.Errorf("Could not shut down worker %s", w)
		} else {
			counters = append(counters, reply.Tasks)
		}
	}
	return
}

// ------- Utility Functions to Merge Output -------

// Merges output from all reducer shards, sorted by key, into the manager and
// into a single msgpack file, which is convenient for debugging.
func (m *Manager) merge() error {
	glog.V(1).Infof("Merging output for %s", m.spec.JobName)
	var out, skipped []KeyValue
	for i := 0; i < m.spec.R; i++ {
		fn := mergeName(m.spec.JobName, i)
		glog.V(1).Infof("Merging %s", fn)
		kvs, err := readKVs(fn)
		if err != nil {
			return errors.Wrap(err, "merge")
		}
		out = append(out, kvs...)

		kvs, err = readKVs(skipName(m.spec.JobName, i))
		if err != nil {
			return errors.Wrap(err, "merge")
		}
		skipped = append(skipped, kvs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Key < skipped[j].Key })

	m.output = out
	m.skipped = skipped
	return writeKVs(fprefix+m.spec.JobName, out)
}

// Remove all temporary files. Files a failed run never produced are ignored.
func (m *Manager) Cleanup() error {
	var names []string
	for i := range m.spec.Files {
		for j := 0; j < m.spec.R; j++ {
			names = append(names, reduceName(m.spec.JobName, i, j))
		}
	}
	for i := 0; i < m.spec.R; i++ {
		names = append(names, mergeName(m.spec.JobName, i), skipName(m.spec.JobName, i))
	}
	names = append(names, fprefix+m.spec.JobName)

	var first error
	for _, n := range names {
		if err := os.Remove(n); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}
