package object

import (
	"sync"
	"time"

	"github.com/loomlang/loom/value"
)

// Map, Set, Buffer, Date and RegExp are the specialized containers
// spec §3 calls out as "owned by standard-library builtins;
// transparent to the core except that the allocator must trace their
// contents." The core never constructs or mutates these on its own
// initiative, and native.Dispatcher's core ids do not construct them
// either: the date ids work on millisecond integers and the regex ids
// on strings.

// Map preserves insertion order (iteration order visible to a Map
// builtin must be deterministic) alongside O(1) lookup.
type Map struct {
	value.Header
	mu    sync.RWMutex
	index map[value.Value]int
	keys  []value.Value
	vals  []value.Value
}

func NewMap(h *value.Heap) *Map {
	obj := &Map{index: make(map[value.Value]int)}
	h.Allocate(obj)
	return obj
}

func (m *Map) TypeName() string { return "Map" }
func (m *Map) Size() int64      { m.mu.RLock(); defer m.mu.RUnlock(); return int64(len(m.keys))*32 + 24 }

func (m *Map) Trace(out []value.Value) []value.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out = append(out, m.keys...)
	out = append(out, m.vals...)
	return out
}

func (m *Map) Set(k, v value.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[k]; ok {
		m.vals[i] = v
		return
	}
	m.index[k] = len(m.keys)
	m.keys = append(m.keys, k)
	m.vals = append(m.vals, v)
}

func (m *Map) Get(k value.Value) (value.Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[k]
	if !ok {
		return value.Value{}, false
	}
	return m.vals[i], true
}

func (m *Map) Delete(k value.Value) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[k]
	if !ok {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	delete(m.index, k)
	for key, idx := range m.index {
		if idx > i {
			m.index[key] = idx - 1
		}
	}
	return true
}

func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Set is an insertion-ordered value set.
type Set struct {
	value.Header
	mu    sync.RWMutex
	index map[value.Value]int
	items []value.Value
}

func NewSet(h *value.Heap) *Set {
	obj := &Set{index: make(map[value.Value]int)}
	h.Allocate(obj)
	return obj
}

func (s *Set) TypeName() string { return "Set" }
func (s *Set) Size() int64      { s.mu.RLock(); defer s.mu.RUnlock(); return int64(len(s.items))*16 + 24 }
func (s *Set) Trace(out []value.Value) []value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(out, s.items...)
}

func (s *Set) Add(v value.Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = len(s.items)
	s.items = append(s.items, v)
	return true
}

func (s *Set) Has(v value.Value) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[v]
	return ok
}

func (s *Set) Remove(v value.Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[v]
	if !ok {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, v)
	for key, idx := range s.index {
		if idx > i {
			s.index[key] = idx - 1
		}
	}
	return true
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Buffer is a growable byte buffer (binary I/O / codec helpers).
type Buffer struct {
	value.Header
	mu   sync.RWMutex
	data []byte
}

func NewBuffer(h *value.Heap, initial []byte) *Buffer {
	obj := &Buffer{data: append([]byte(nil), initial...)}
	h.Allocate(obj)
	return obj
}

func (b *Buffer) TypeName() string { return "Buffer" }
func (b *Buffer) Size() int64      { b.mu.RLock(); defer b.mu.RUnlock(); return int64(len(b.data)) + 24 }
func (b *Buffer) Trace(out []value.Value) []value.Value { return out }

func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *Buffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Date wraps a point in time for the date-arithmetic native ids
// (spec §6 native range 2).
type Date struct {
	value.Header
	t time.Time
}

func NewDate(h *value.Heap, t time.Time) *Date {
	obj := &Date{t: t}
	h.Allocate(obj)
	return obj
}

func (d *Date) TypeName() string { return "Date" }
func (d *Date) Size() int64      { return 24 }
func (d *Date) Trace(out []value.Value) []value.Value { return out }
func (d *Date) Time() time.Time  { return d.t }
func (d *Date) UnixMillis() int64 { return d.t.UnixMilli() }

// RegExp wraps a source pattern plus flags; the core treats the
// pattern as opaque text and leaves compilation/matching to the regex
// native ids.
type RegExp struct {
	value.Header
	Source string
	Flags  string
}

func NewRegExp(h *value.Heap, source, flags string) *RegExp {
	obj := &RegExp{Source: source, Flags: flags}
	h.Allocate(obj)
	return obj
}

func (r *RegExp) TypeName() string { return "RegExp" }
func (r *RegExp) Size() int64      { return int64(len(r.Source)) + 24 }
func (r *RegExp) Trace(out []value.Value) []value.Value { return out }
