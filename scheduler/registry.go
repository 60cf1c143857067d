package scheduler

import (
	"sync"

	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// taskRegistry is the scheduler's read-heavy, write-rare map of every
// live task (spec §4.4 "Task registry: read-heavy, write-rare;
// protected by a reader-writer lock"). It also implements value.Root:
// every task's stack must stay reachable across GC regardless of
// state — Running or Suspended — per spec §4.1's root list, so the
// scheduler hands this to Heap.AddRoot once at startup rather than
// registering/deregistering each task individually.
type taskRegistry struct {
	mu    sync.RWMutex
	tasks map[value.TaskID]*task.Task
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[value.TaskID]*task.Task)}
}

func (r *taskRegistry) add(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
}

func (r *taskRegistry) remove(id value.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

func (r *taskRegistry) get(id value.TaskID) (*task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

func (r *taskRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// snapshot returns every live task, for the preemption monitor and for
// test assertions; iteration order is unspecified.
func (r *taskRegistry) snapshot() []*task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

// Roots implements value.Root (spec §4.1 "all worker stacks of all
// tasks, both Running and Suspended").
func (r *taskRegistry) Roots(out []value.Value) []value.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tasks {
		out = t.Roots(out)
	}
	return out
}
