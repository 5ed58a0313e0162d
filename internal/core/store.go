package core

import (
	"sync"

	"github.com/mudd00/sensorgamehub-sub001/internal/conversation"
)

// Store is the session registry. Implementations must make Insert and Delete
// atomic with respect to concurrent lookups.
type Store interface {
	Insert(s *conversation.Session) error
	Get(id string) (*conversation.Session, bool)
	Delete(id string) bool
	// Range calls fn for a snapshot of the sessions until fn returns false.
	Range(fn func(s *conversation.Session) bool)
	Len() int
}

// MemoryStore keeps sessions in an arena of slots addressed through an id index.
// Freed slots are reused.
type MemoryStore struct {
	mu    sync.RWMutex
	slots []*conversation.Session
	index map[string]int
	free  []int
}

// NewMemoryStore creates an empty registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

// Insert adds a session. Ids are unique.
func (m *MemoryStore) Insert(s *conversation.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[s.ID()]; ok {
		return ErrSessionExists
	}
	var slot int
	if n := len(m.free); n > 0 {
		slot = m.free[n-1]
		m.free = m.free[:n-1]
		m.slots[slot] = s
	} else {
		slot = len(m.slots)
		m.slots = append(m.slots, s)
	}
	m.index[s.ID()] = slot
	return nil
}

// Get looks a session up by id.
func (m *MemoryStore) Get(id string) (*conversation.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return m.slots[slot], true
}

// Delete evicts a session and frees its slot.
func (m *MemoryStore) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.index[id]
	if !ok {
		return false
	}
	delete(m.index, id)
	m.slots[slot] = nil
	m.free = append(m.free, slot)
	return true
}

// Range visits live sessions in slot order.
func (m *MemoryStore) Range(fn func(s *conversation.Session) bool) {
	m.mu.RLock()
	live := make([]*conversation.Session, 0, len(m.index))
	for _, s := range m.slots {
		if s != nil {
			live = append(live, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range live {
		if !fn(s) {
			return
		}
	}
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}
