package scheduler

import (
	"sync"

	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/value"
)

// waitGroup tracks one in-flight wait-all suspension (spec §4.4
// "WaitAll(task_ids): all must complete; the first failure
// propagates"). Deliberately not built on task.AddWaiter/TakeWaiters:
// that mechanism delivers a single value to every registered waiter
// the instant one task finishes, which is exactly right for a plain
// await but wrong here, where the waiter must block until every
// member finishes and then receive one assembled array in spawn
// order — so this stays a scheduler-side structure, hand-rolled over
// the task registry rather than a literal errgroup.Wait (§11).
type waitGroup struct {
	waiter    value.TaskID
	order     []value.TaskID
	results   map[value.TaskID]value.Value
	remaining int
	resolved  bool
}

// waitGroupResult is what the scheduler deposits on the waiter: either
// a successful array of per-member results, or the first failure.
type waitGroupResult struct {
	value value.Value
	isErr bool
}

// waitAllTracker indexes in-flight waitGroups by every member task id
// they still need to hear from, so a single task completion can look
// up and update every group waiting on it in O(groups-watching-it).
type waitAllTracker struct {
	heap *value.Heap

	mu       sync.Mutex
	byMember map[value.TaskID][]*waitGroup
}

func newWaitAllTracker(h *value.Heap) *waitAllTracker {
	return &waitAllTracker{heap: h, byMember: make(map[value.TaskID][]*waitGroup)}
}

// register starts watching ids on behalf of waiter. already is called
// for any id whose current state is already terminal — races the
// registering worker may observe if a member finished before the
// wait-all opcode's suspension reached the scheduler — and reports
// (value, isError, true) for those.
func (wt *waitAllTracker) register(waiter value.TaskID, ids []value.TaskID, already func(value.TaskID) (value.Value, bool, bool)) *waitGroupResult {
	if len(ids) == 0 {
		return &waitGroupResult{value: value.Null}
	}
	g := &waitGroup{
		waiter:    waiter,
		order:     append([]value.TaskID(nil), ids...),
		results:   make(map[value.TaskID]value.Value, len(ids)),
		remaining: len(ids),
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()
	for _, id := range ids {
		if v, isErr, done := already(id); done {
			if res := wt.applyLocked(g, id, v, isErr); res != nil {
				return res
			}
			continue
		}
		wt.byMember[id] = append(wt.byMember[id], g)
	}
	return nil
}

// complete is called once per terminal (completed or failed) task,
// with its final value (a result or a failure value), and resolves
// every waitGroup watching it. Groups that resolve are returned keyed
// by waiter so the caller can wake them; a group that already resolved
// from an earlier member's failure silently ignores later members.
func (wt *waitAllTracker) complete(id value.TaskID, v value.Value, isErr bool) map[value.TaskID]*waitGroupResult {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	groups := wt.byMember[id]
	delete(wt.byMember, id)
	if len(groups) == 0 {
		return nil
	}
	out := make(map[value.TaskID]*waitGroupResult)
	for _, g := range groups {
		if res := wt.applyLocked(g, id, v, isErr); res != nil {
			out[g.waiter] = res
		}
	}
	return out
}

// applyLocked must be called with wt.mu held. It records id's result
// into g; once g is resolvable (first failure, or every member now
// accounted for) it builds the final value to deposit on g.waiter and
// marks g resolved so any later, redundant completion is a no-op.
func (wt *waitAllTracker) applyLocked(g *waitGroup, id value.TaskID, v value.Value, isErr bool) *waitGroupResult {
	if g.resolved {
		return nil
	}
	if isErr {
		g.resolved = true
		return &waitGroupResult{value: v, isErr: true}
	}
	g.results[id] = v
	g.remaining--
	if g.remaining > 0 {
		return nil
	}
	g.resolved = true
	elems := make([]value.Value, len(g.order))
	for i, mid := range g.order {
		elems[i] = g.results[mid]
	}
	arr := object.NewArray(wt.heap, -1, elems)
	return &waitGroupResult{value: value.Pointer(arr)}
}
