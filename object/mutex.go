package object

import (
	"sync"

	"github.com/loomlang/loom/value"
)

// Mutex is identified by a small integer id (spec §4.5). It is not a
// heap-allocated Value the way Channel is; the interpreter addresses
// it through MutexTable by id, matching the bytecode's mutex-lock
// opcode operand.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	owner   value.TaskID
	waiters []value.TaskID
}

// TryLock is non-blocking: it either acquires the mutex for self and
// returns true, or returns false leaving self to be registered as a
// waiter by the caller via the lock opcode's suspend path.
func (m *Mutex) TryLock(self value.TaskID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return false
	}
	m.held = true
	m.owner = self
	return true
}

// Enqueue registers self as a FIFO waiter after a failed TryLock.
func (m *Mutex) Enqueue(self value.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiters = append(m.waiters, self)
}

// Unlock releases the mutex and, per FIFO fairness (spec §4.4), hands
// ownership directly to the oldest waiter rather than leaving it to be
// re-contended.
func (m *Mutex) Unlock(self value.TaskID) (next value.TaskID, hasNext bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held || m.owner != self {
		return 0, false, false
	}
	if len(m.waiters) > 0 {
		next = m.waiters[0]
		m.waiters = m.waiters[1:]
		m.owner = next
		return next, true, true
	}
	m.held = false
	m.owner = 0
	return 0, false, true
}

func (m *Mutex) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

func (m *Mutex) Owner() (value.TaskID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner, m.held
}

// MutexTable is the runtime's small-integer-id mutex registry (spec
// §4.4 "Shared resources"). Grown on demand: the mutex-lock opcode with
// id 0 allocates a fresh mutex and pushes its id.
type MutexTable struct {
	mu      sync.RWMutex
	mutexes []*Mutex
}

func NewMutexTable() *MutexTable { return &MutexTable{} }

// New allocates a fresh mutex and returns its id.
func (t *MutexTable) New() value.MutexID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mutexes = append(t.mutexes, &Mutex{})
	return value.MutexID(len(t.mutexes) - 1)
}

func (t *MutexTable) Get(id value.MutexID) (*Mutex, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 0 || int(id) >= len(t.mutexes) {
		return nil, false
	}
	return t.mutexes[id], true
}
