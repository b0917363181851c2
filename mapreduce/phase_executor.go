package mapreduce

import (
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Structure representing a phase's job.
type phaseJob struct {
	JobName     string      // Name of the parent job.
	MapFiles    []string    // List of all map files.
	NumReduce   int         // Number of reducers.
	Phase       mrPhase     // The current phase.
	WorkerQueue chan string // A queue of workers populated by the manager.
	TaskQueue   chan int    // A queue of tasks.
}

// Returns how many tasks there are for this phase, and how many tasks there are
// for the other phase. If the phase is map, ntasks will be M, and numOther will
// be R. If the phase is reduce, ntasks will be R, and numOther will be M.
func nwork(phase mrPhase, spec MapReduceSpec) (ntasks, numOther int) {
	switch phase {
	case mapPhase:
		ntasks = len(spec.Files)
		numOther = spec.R
	case reducePhase:
		ntasks = spec.R
		numOther = len(spec.Files)
	}
	return
}

// executePhase schedules every task of a phase on registered workers and
// waits for all of them. registerChan yields all currently-registered workers
// and any new ones as they appear. A worker that cannot be reached loses its
// task to another worker; a task that a worker ran and failed fails the phase.
func executePhase(
	spec MapReduceSpec, // spec of the MapReduce.
	phase mrPhase, // current phase.
	registerChan chan string, // channel for worker registration.
) error {
	ntasks, numOther := nwork(phase, spec)
	glog.V(1).Infof("Executing Phase %v %v tasks (%d I/Os)", phase, ntasks, numOther)

	// Create task queue and work queue. Populate task queue.
	parallelism := 100 // Max parallelism of 100; in practice this is very tiny.
	wq := make(chan string, parallelism)
	tq := make(chan int, ntasks)
	for i := 0; i < ntasks; i++ {
		tq <- i
	}
	close(tq)

	// Start forwarding worker registration to the worker queue.
	done := make(chan bool)
	go forward(wq, registerChan, done)

	err := match(phaseJob{
		JobName:     spec.JobName,
		MapFiles:    spec.Files,
		NumReduce:   spec.R,
		Phase:       phase,
		TaskQueue:   tq,
		WorkerQueue: wq})

	done <- true // shut down forwarding when match returns.
	glog.V(1).Infof("Executing Phase %v done", phase)
	return err
}

// match schedules all tasks from the task queue to workers from the worker
// queue. Each task keeps asking for workers until one completes it; workers
// that completed a task go back on the queue, unreachable ones do not.
func match(j phaseJob) error {
	g, ctx := errgroup.WithContext(context.Background())
	for t := range j.TaskQueue {
		t := t
		g.Go(func() error {
			for {
				var w string
				select {
				case w = <-j.WorkerQueue:
				case <-ctx.Done():
					return ctx.Err()
				}

				var err error
				switch j.Phase {
				case mapPhase:
					err = call_map(j.JobName, w, j.MapFiles[t], t, j.NumReduce)
				case reducePhase:
					err = call_reduce(j.JobName, w, t, len(j.MapFiles))
				}
				if err == nil {
					go func() { j.WorkerQueue <- w }()
					return nil
				}
				if isTaskError(err) {
					return errors.Wrapf(err, "%v task %d on worker %s", j.Phase, t, w)
				}
				glog.Errorf("Worker %s lost %v task %d, rescheduling: %v", w, j.Phase, t, err)
			}
		})
	}
	return g.Wait()
}

// Forwards the worker registration channel to a worker queue.
func forward(a chan string, r chan string, done chan bool) {
	for {
		select {
		case w := <-r:
			glog.V(1).Infof("New worker %s", w)
			select {
			case a <- w:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

// Calls DoWork on the given worker to execute a map task.
func call_map(
	j string, // The mapreduce job.
	w string, // The worker to call DoWork on.
	f string, // The file for the worker to use.
	t int, // The task id of the map task.
	n int, // The number of reducers.
) error {
	req := WorkRequest{
		Phase:    mapPhase,
		JobName:  j,
		TaskId:   t,
		File:     f,
		NumOther: n}
	var reply WorkReply
	err := call(w, "Worker.DoWork", &req, &reply)
	glog.V(1).Infof("Worker %s done with map task %d (err=%v)", w, t, err)
	return err
}

// Calls DoWork on the given worker to execute a reduce task.
func call_reduce(
	j string, // The mapreduce job.
	w string, // The worker to call DoWork on.
	t int, // The reduce task id.
	n int, // The number of mappers.
) error {
	req := WorkRequest{
		Phase:    reducePhase,
		JobName:  j,
		TaskId:   t,
		NumOther: n}
	var reply WorkReply
	err := call(w, "Worker.DoWork", &req, &reply)
	glog.V(1).Infof("Worker %s done with reduce task %d (err=%v)", w, t, err)
	return err
}
