package scheduler

import (
	"sync"

	"github.com/loomlang/loom/task"
)

// localDeque is one worker's double-ended run queue (spec §4.4 "Work
// distribution uses a per-worker double-ended queue ... and
// work-stealing from peers' tail ends"). The owning worker pushes and
// pops its own head; other workers only ever steal from the tail.
//
// Grounded on the teacher's mutex-guarded-slice idiom (server/
// scheduler.go's TaskQueue, noisefs's WorkerPoolOptimizer's mu-guarded
// counters) rather than a lock-free Chase-Lev ring: nothing in the
// retrieval pack implements a lock-free deque, and the spec only
// requires per-worker locality plus tail-stealing, not lock-freedom.
type localDeque struct {
	mu    sync.Mutex
	tasks []*task.Task
}

func newLocalDeque() *localDeque { return &localDeque{} }

// pushHead is the owner's "give myself more work" path (e.g. the
// worker just dequeued a task that immediately spawned children it
// prefers to run next, matching the teacher's habit of running forked
// tasks before returning to the scheduler loop).
func (d *localDeque) pushHead(t *task.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append([]*task.Task{t}, d.tasks...)
}

// popHead is the owner's normal dequeue.
func (d *localDeque) popHead() *task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tasks) == 0 {
		return nil
	}
	t := d.tasks[0]
	d.tasks = d.tasks[1:]
	return t
}

// stealTail is called by any other worker when its own deque and the
// injector are both empty.
func (d *localDeque) stealTail() *task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.tasks)
	if n == 0 {
		return nil
	}
	t := d.tasks[n-1]
	d.tasks = d.tasks[:n-1]
	return t
}

func (d *localDeque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}
