package raft

import (
	"sync"
	"testing"
)

func TestMemoryStateMachine(t *testing.T) {
	sm := NewMemoryStateMachine()

	payload := []byte("set x=1")
	sm.Apply(1, &LogEntry{UniqueID: 10, Term: 1, Payload: payload})
	sm.Apply(2, &LogEntry{UniqueID: 11, Term: 1})
	sm.Apply(3, &LogEntry{UniqueID: 10, Term: 2})
	payload[0] = 'X'

	if sm.Len() != 3 {
		t.Fatalf("Len mismatch: got %d, want 3", sm.Len())
	}

	entries := sm.Entries()
	if string(entries[0].Payload) != "set x=1" {
		t.Errorf("payload should be copied on apply, got %q", entries[0].Payload)
	}
	if entries[2].Index != 3 || entries[2].Term != 2 {
		t.Errorf("entry 3 mismatch: %+v", entries[2])
	}

	// A repeated unique ID keeps its first index.
	if index, ok := sm.Lookup(10); !ok || index != 1 {
		t.Errorf("Lookup(10) = %d/%v, want 1/true", index, ok)
	}
	if _, ok := sm.Lookup(99); ok {
		t.Error("Lookup(99) should miss")
	}

	entries[0].Index = 42
	if sm.Entries()[0].Index != 1 {
		t.Error("Entries should return a copy")
	}
}

func TestMemoryStateMachineConcurrentReads(t *testing.T) {
	sm := NewMemoryStateMachine()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			sm.Apply(Index(i), &LogEntry{UniqueID: uint32(i), Term: 1})
		}
	}()
	for i := 0; i < 100; i++ {
		sm.Len()
		sm.Lookup(uint32(i))
	}
	wg.Wait()

	if sm.Len() != 100 {
		t.Errorf("Len mismatch: got %d, want 100", sm.Len())
	}
}
