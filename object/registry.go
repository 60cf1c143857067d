// Package object implements the heap object kinds spec §3/§4.2 list
// (String, Array, Object, Closure, RefCell, Channel, Map, Set, Buffer,
// Date, RegExp) and the process-wide class registry.
//
// Grounded on barn/types/{list,map,obj,waif}.go for container shape and
// barn/db/object.go for the registry's reader-writer-lock idiom; the
// class/vtable/instanceof machinery has no direct teacher analogue
// (MOO objects aren't class-based) and is built fresh from spec §3/§4.2,
// cross-checked against barn/types/waif.go's parent-chain walk since
// waifs are the teacher's closest thing to a lightweight class instance.
package object

import (
	"fmt"
	"sync"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/value"
)

// ClassEntry is the resolved, runtime form of a bytecode.Class: its
// vtable and field count already include everything inherited from its
// parent chain, so method/field lookup at call time is a single slice
// index with no walk.
type ClassEntry struct {
	Name           string
	ParentID       int32 // -1 if none
	FieldCount     int
	FieldOffset    int // offset of this class's own first field (after parent's)
	Vtable         []int32
	ConstructorIdx int32 // -1 if none
	IsAbstract     bool
	FieldNames     []string
	MethodNames    []string
	StaticFields   []value.Value
}

// ClassRegistry is the process-wide, class_id-indexed table (spec §3
// "Class registry"). Append-only during load; a write lock additionally
// guards dynamic class construction at runtime.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes []*ClassEntry
}

func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{}
}

// Load resolves every bytecode.Class in classes into a ClassEntry, computing
// inherited field counts and a flattened vtable. Classes must be listed
// so that a class's parent has a lower index (the compiler's job;
// Load does not reorder).
func (r *ClassRegistry) Load(classes []bytecode.Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range classes {
		c := &classes[i]
		entry := &ClassEntry{
			Name:           c.Name,
			ParentID:       int32(c.ParentIndex),
			ConstructorIdx: int32(c.ConstructorIdx),
			IsAbstract:     c.IsAbstract,
			FieldNames:     c.FieldNames,
			MethodNames:    c.MethodNames,
		}
		if c.ParentIndex < 0 {
			entry.FieldOffset = 0
			entry.Vtable = append([]int32(nil), c.Vtable...)
		} else {
			if c.ParentIndex >= len(r.classes) {
				return fmt.Errorf("object: class %q references unresolved parent index %d", c.Name, c.ParentIndex)
			}
			parent := r.classes[c.ParentIndex]
			entry.FieldOffset = parent.FieldCount
			entry.Vtable = mergeVtables(parent.Vtable, c.Vtable)
		}
		entry.FieldCount = entry.FieldOffset + c.FieldCount
		entry.StaticFields = staticInitValues(c.StaticInitial)
		r.classes = append(r.classes, entry)
	}
	return nil
}

// mergeVtables overlays child on top of parent: a child entry of -1
// (unset, i.e. not overridden) falls back to the parent's function id;
// the child's own slice may be longer if it declares new methods.
func mergeVtables(parent, child []int32) []int32 {
	n := len(parent)
	if len(child) > n {
		n = len(child)
	}
	merged := make([]int32, n)
	for i := 0; i < n; i++ {
		merged[i] = -1
		if i < len(parent) {
			merged[i] = parent[i]
		}
		if i < len(child) && child[i] != -1 {
			merged[i] = child[i]
		}
	}
	return merged
}

func staticInitValues(inits []bytecode.StaticInit) []value.Value {
	out := make([]value.Value, len(inits))
	for i, in := range inits {
		switch in.Kind {
		case bytecode.StaticNull:
			out[i] = value.Null
		case bytecode.StaticBool:
			out[i] = value.Bool(in.I != 0)
		case bytecode.StaticInt:
			out[i] = value.I64(in.I)
		case bytecode.StaticFloat:
			out[i] = value.F64(in.F)
		case bytecode.StaticString:
			out[i] = value.Null // strings need heap allocation, which this function has no heap for; string statics load as Null
		}
	}
	return out
}

// Get returns the ClassEntry for id, or ok=false if out of range.
func (r *ClassRegistry) Get(id int32) (*ClassEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.classes) {
		return nil, false
	}
	return r.classes[id], true
}

// DefineDynamic appends a new class at runtime (dynamic class
// construction, spec §3 "mutable-by-write-lock at runtime").
func (r *ClassRegistry) DefineDynamic(c bytecode.Class) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := &ClassEntry{
		Name:           c.Name,
		ParentID:       int32(c.ParentIndex),
		ConstructorIdx: int32(c.ConstructorIdx),
		IsAbstract:     c.IsAbstract,
		FieldNames:     c.FieldNames,
		MethodNames:    c.MethodNames,
	}
	if c.ParentIndex < 0 {
		entry.Vtable = append([]int32(nil), c.Vtable...)
	} else {
		if c.ParentIndex >= len(r.classes) {
			return -1, fmt.Errorf("object: dynamic class %q references unresolved parent %d", c.Name, c.ParentIndex)
		}
		parent := r.classes[c.ParentIndex]
		entry.FieldOffset = parent.FieldCount
		entry.Vtable = mergeVtables(parent.Vtable, c.Vtable)
	}
	entry.FieldCount = entry.FieldOffset + c.FieldCount
	entry.StaticFields = staticInitValues(c.StaticInitial)
	id := int32(len(r.classes))
	r.classes = append(r.classes, entry)
	return id, nil
}

// InstanceOf walks the parent chain of classID looking for target,
// terminating when the parent is absent or target is found (spec §4.2).
func (r *ClassRegistry) InstanceOf(classID, target int32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := classID; id >= 0; {
		if id == target {
			return true
		}
		if id >= int32(len(r.classes)) {
			return false
		}
		id = r.classes[id].ParentID
	}
	return false
}

// Roots implements value.Root: static field slots across all classes
// are GC roots (spec §4.1).
func (r *ClassRegistry) Roots(out []value.Value) []value.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.classes {
		out = append(out, c.StaticFields...)
	}
	return out
}
