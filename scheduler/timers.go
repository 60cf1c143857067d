package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/loomlang/loom/value"
)

// timerEntry is one pending Sleep{wake_at} suspension (spec §4.4
// "Sleep{wake_at}: a timer thread (or min-heap polled by an idle
// worker) wakes at-or-after that instant").
type timerEntry struct {
	wakeAt time.Time
	task   value.TaskID
}

// timerHeap is a min-heap ordered by wakeAt, directly grounded on the
// teacher's server/scheduler.go TaskQueue (a container/heap.Interface
// over *task.Task ordered by StartTime) — narrowed here to the id plus
// wake instant, since the scheduler looks the live *task.Task back up
// in the registry rather than holding a second pointer to it.
type timerHeap []timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].wakeAt.Before(h[j].wakeAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// timerWheel guards the heap with its own mutex so the preemption
// monitor and any worker finishing a Sleep suspension can both touch
// it without routing through the scheduler's main loop.
type timerWheel struct {
	mu sync.Mutex
	h  timerHeap
}

func newTimerWheel() *timerWheel {
	tw := &timerWheel{}
	heap.Init(&tw.h)
	return tw
}

func (tw *timerWheel) schedule(id value.TaskID, wakeAt time.Time) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	heap.Push(&tw.h, timerEntry{wakeAt: wakeAt, task: id})
}

// due pops and returns every entry whose wakeAt has passed.
func (tw *timerWheel) due(now time.Time) []value.TaskID {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	var out []value.TaskID
	for tw.h.Len() > 0 && !tw.h[0].wakeAt.After(now) {
		e := heap.Pop(&tw.h).(timerEntry)
		out = append(out, e.task)
	}
	return out
}

// nextWake reports the soonest pending wake time, if any. The monitor
// goroutine does not consult it; it drains due entries on every tick.
func (tw *timerWheel) nextWake() (time.Time, bool) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.h.Len() == 0 {
		return time.Time{}, false
	}
	return tw.h[0].wakeAt, true
}
