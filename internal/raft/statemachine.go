package raft

import "sync"

// AppliedEntry is one committed command as seen by a state machine.
type AppliedEntry struct {
	Index    Index
	Term     Term
	UniqueID uint32
	Payload  []byte
}

// MemoryStateMachine records every applied entry in order. It is safe to read
// from other goroutines while a Runner applies entries.
type MemoryStateMachine struct {
	entries []AppliedEntry
	applied map[uint32]Index // unique ID -> first index applied at
	mu      sync.RWMutex
}

// NewMemoryStateMachine creates an empty state machine.
func NewMemoryStateMachine() *MemoryStateMachine {
	return &MemoryStateMachine{
		applied: make(map[uint32]Index),
	}
}

// Apply records a committed entry. The payload is copied.
func (sm *MemoryStateMachine) Apply(index Index, entry *LogEntry) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.entries = append(sm.entries, AppliedEntry{
		Index:    index,
		Term:     entry.Term,
		UniqueID: entry.UniqueID,
		Payload:  append([]byte(nil), entry.Payload...),
	})
	if _, ok := sm.applied[entry.UniqueID]; !ok {
		sm.applied[entry.UniqueID] = index
	}
	return nil
}

// Len returns the number of applied entries.
func (sm *MemoryStateMachine) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.entries)
}

// Entries returns a copy of the applied entries.
func (sm *MemoryStateMachine) Entries() []AppliedEntry {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]AppliedEntry(nil), sm.entries...)
}

// Lookup returns the index a unique ID was first applied at.
func (sm *MemoryStateMachine) Lookup(uniqueID uint32) (Index, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	index, ok := sm.applied[uniqueID]
	return index, ok
}
