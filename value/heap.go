package value

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Header is the allocation metadata every HeapObject embeds. The
// collector sets mark during GC; objects never touch it themselves.
type Header struct {
	mark bool
	next HeapObject // intrusive linked list over all live allocations
}

func (h *Header) HeapHeader() *Header { return h }

// Root is any external source of reachable values the GC must scan
// before it can sweep — task stacks, globals, class-registry statics.
// The interpreter and scheduler packages register their own roots;
// value itself only defines the seam.
type Root interface {
	// Roots appends every Value this root holds directly to out.
	Roots(out []Value) []Value
}

// Heap is the stop-the-world mark-and-sweep allocator backing every
// reference type in the runtime (spec §4.1). It is safe for concurrent
// Allocate calls from multiple worker goroutines; a GC cycle is
// triggered by the scheduler polling GCRequested and calling Collect,
// coordinated against running workers via gcBarrier/SafepointPoll.
type Heap struct {
	mu    sync.Mutex
	head  HeapObject // intrusive list of all live+candidate objects
	count int64
	bytes int64 // approximate; used against Threshold

	Threshold int64 // bytes; GC triggers when exceeded (0 = disabled)

	roots   []Root
	rootsMu sync.RWMutex

	gcRequested atomic.Bool
	stats       Stats

	// gcBarrier coordinates safepoints with Collect (spec §4.1 "Heap
	// mutation only happens at safepoints"): every interpreter worker
	// calls SafepointPoll, which briefly RLocks/RUnlocks; Collect holds
	// the write lock for its whole stop-the-world phase, so a worker
	// mid-poll blocks until the cycle finishes, and Collect itself
	// blocks until no worker is mid-instruction inside a poll. This is
	// an approximation — it does not force a long-running native call
	// to pause — acceptable given every dispatch-loop iteration already
	// polls (spec §4.3).
	gcBarrier sync.RWMutex
}

// Stats exposes counters telemetry/metrics can publish.
type Stats struct {
	Cycles     int64
	LastFreed  int64
	LiveCount  int64
	LiveBytes  int64
}

// NewHeap constructs a Heap with the given soft byte threshold (0
// disables automatic GC requests; the caller/scheduler can still force
// one via Collect).
func NewHeap(threshold int64) *Heap {
	return &Heap{Threshold: threshold}
}

// sized is implemented by objects that know their own approximate
// heap footprint; objects that don't implement it are charged a
// nominal 32 bytes.
type sized interface {
	Size() int64
}

// Allocate registers obj as live on the heap and links it for GC
// tracing. Concrete constructors in package object call this exactly
// once per object, immediately after building it.
func (h *Heap) Allocate(obj HeapObject) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj.HeapHeader().next = h.head
	h.head = obj
	h.count++
	if s, ok := obj.(sized); ok {
		h.bytes += s.Size()
	} else {
		h.bytes += 32
	}
	if h.Threshold > 0 && h.bytes > h.Threshold {
		h.gcRequested.Store(true)
	}
}

// AddRoot registers a permanent GC root: the class registry's static
// table, the global-variable table, and the scheduler's task registry
// (which itself fans Roots out to every live task, so individual tasks
// are never added/removed here — only the registry as a whole, once,
// at scheduler startup).
func (h *Heap) AddRoot(r Root) {
	h.rootsMu.Lock()
	defer h.rootsMu.Unlock()
	h.roots = append(h.roots, r)
}

func (h *Heap) RemoveRoot(r Root) {
	h.rootsMu.Lock()
	defer h.rootsMu.Unlock()
	for i, existing := range h.roots {
		if existing == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// GCRequested reports whether the allocation threshold has been
// crossed since the last Collect. The scheduler's monitor polls this
// at safepoints instead of the heap pushing work onto workers.
func (h *Heap) GCRequested() bool { return h.gcRequested.Load() }

// SafepointPoll is called once per dispatch-loop iteration (and on
// every backward jump) so a Collect running on another goroutine can
// make progress. It does no real work itself; acquiring then releasing
// the read side of gcBarrier is enough to block until any in-progress
// Collect (which holds the write side) has finished.
func (h *Heap) SafepointPoll() {
	h.gcBarrier.RLock()
	h.gcBarrier.RUnlock()
}

// Collect runs a full stop-the-world mark-and-sweep. It holds the write
// side of gcBarrier for the whole cycle, so it waits out any
// SafepointPoll in progress and blocks later polls until it returns; a
// worker executing between two polls is not stopped by it.
func (h *Heap) Collect() Stats {
	h.gcBarrier.Lock()
	defer h.gcBarrier.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.gcRequested.Store(false)

	h.rootsMu.RLock()
	roots := make([]Root, len(h.roots))
	copy(roots, h.roots)
	h.rootsMu.RUnlock()

	var work []Value
	for _, r := range roots {
		work = r.Roots(work)
	}

	// mark
	for len(work) > 0 {
		n := len(work) - 1
		v := work[n]
		work = work[:n]
		if v.Kind() != KindPointer {
			continue
		}
		obj := v.AsPointer()
		hdr := obj.HeapHeader()
		if hdr.mark {
			continue
		}
		hdr.mark = true
		work = obj.Trace(work)
	}

	// sweep: walk the intrusive list, keep marked objects, unmark them
	// for the next cycle, drop the rest.
	var newHead HeapObject
	var tail HeapObject
	var live, freed int64
	var liveBytes int64
	for obj := h.head; obj != nil; {
		hdr := obj.HeapHeader()
		next := hdr.next
		if hdr.mark {
			hdr.mark = false
			hdr.next = nil
			if tail == nil {
				newHead = obj
			} else {
				tail.HeapHeader().next = obj
			}
			tail = obj
			live++
			if s, ok := obj.(sized); ok {
				liveBytes += s.Size()
			} else {
				liveBytes += 32
			}
		} else {
			freed++
		}
		obj = next
	}
	h.head = newHead
	h.count = live
	h.bytes = liveBytes

	h.stats.Cycles++
	h.stats.LastFreed = freed
	h.stats.LiveCount = live
	h.stats.LiveBytes = liveBytes
	return h.stats
}

// StatsSnapshot returns a snapshot of the most recent Collect's results plus
// running totals.
func (h *Heap) StatsSnapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Heap) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("Heap{objects=%d bytes=%d threshold=%d}", h.count, h.bytes, h.Threshold)
}
