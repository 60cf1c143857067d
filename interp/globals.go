package interp

import (
	"sync"

	"github.com/loomlang/loom/value"
)

// Globals is the append-and-index global variable table (spec §4.4
// "Global variables: append-and-index; guarded by a reader-writer lock
// with grow-on-store"). Grounded on barn/db/store.go's mutex-guarded
// table idiom, narrowed to RWMutex since reads vastly outnumber writes.
type Globals struct {
	mu   sync.RWMutex
	vals []value.Value
}

func NewGlobals() *Globals { return &Globals{} }

// Load reads slot idx, returning null for any not-yet-written slot
// within range and for out-of-range indices — a global is implicitly
// null until first stored, matching spec §4.3 "load/store by index".
func (g *Globals) Load(idx uint32) value.Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(idx) >= len(g.vals) {
		return value.Null
	}
	return g.vals[idx]
}

// Store writes slot idx, growing the table with null-filled slots if
// necessary.
func (g *Globals) Store(idx uint32, v value.Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if int(idx) >= len(g.vals) {
		grown := make([]value.Value, int(idx)+1)
		copy(grown, g.vals)
		for i := len(g.vals); i < len(grown); i++ {
			grown[i] = value.Null
		}
		g.vals = grown
	}
	g.vals[idx] = v
}

// Roots implements value.Root: every global is a GC root (spec §4.1).
func (g *Globals) Roots(out []value.Value) []value.Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append(out, g.vals...)
}
