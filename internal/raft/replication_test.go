package raft

import (
	"bytes"
	"errors"
	"testing"
)

func TestAppendReplicatesToPeers(t *testing.T) {
	n, rpc := newTestNode(t, 1, 3)
	makeLeader(n, 1)
	rpc.reset()

	if err := n.Append(42, []byte("cmd")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entry, _ := n.state.log.Entry(-1)
	if entry.UniqueID != 42 || entry.Term != 1 || entry.Kind != EntryUser {
		t.Errorf("appended entry mismatch: %+v", entry)
	}

	sent := rpc.appendEntries()
	if len(sent) != 2 {
		t.Fatalf("AppendEntries count mismatch: got %d, want 2", len(sent))
	}
	for peer, args := range sent {
		if args.PrevLogIndex != 0 || args.PrevLogTerm != 0 {
			t.Errorf("peer %d prev mismatch: %d/%d", peer, args.PrevLogIndex, args.PrevLogTerm)
		}
		if len(args.Entries) != 1 || !bytes.Equal(args.Entries[0].Payload, []byte("cmd")) {
			t.Errorf("peer %d entries mismatch: %+v", peer, args.Entries)
		}
	}
	if n.state.commitIndex != 0 {
		t.Errorf("commitIndex should wait for a majority, got %d", n.state.commitIndex)
	}
}

func TestAppendEntriesResponseCommitsOnMajority(t *testing.T) {
	n, _ := newTestNode(t, 1, 5)
	applied := NewMemoryStateMachine()
	n.stateMachine = applied
	makeLeader(n, 1)

	n.Append(1, []byte("a"))
	n.Append(2, []byte("b"))

	ack := func(from NodeID, index Index) {
		t.Helper()
		err := n.ReceiveAppendEntriesResponse(&AppendEntriesResponseArgs{
			FollowerID: from, Term: 1, Success: true, AcknowledgedLogIndex: index, AcknowledgedLogTerm: 1,
		})
		if err != nil {
			t.Fatalf("ReceiveAppendEntriesResponse failed: %v", err)
		}
	}

	ack(2, 2)
	if n.state.commitIndex != 0 {
		t.Fatalf("committed with 2 of 5: commitIndex %d", n.state.commitIndex)
	}
	if n.state.matchIndex[1] != 2 || n.state.nextIndex[1] != 3 {
		t.Errorf("progress for node 2: match %d next %d", n.state.matchIndex[1], n.state.nextIndex[1])
	}

	ack(3, 1)
	if n.state.commitIndex != 1 {
		t.Fatalf("commitIndex mismatch: got %d, want 1", n.state.commitIndex)
	}

	// Duplicate acknowledgements do not count twice.
	ack(3, 1)
	ack(2, 2)
	if n.state.commitIndex != 1 {
		t.Fatalf("duplicate ack advanced commit to %d", n.state.commitIndex)
	}

	ack(4, 2)
	if n.state.commitIndex != 2 {
		t.Fatalf("commitIndex mismatch: got %d, want 2", n.state.commitIndex)
	}
	if applied.Len() != 2 {
		t.Errorf("applied count mismatch: got %d, want 2", applied.Len())
	}
	if idx, ok := applied.Lookup(2); !ok || idx != 2 {
		t.Errorf("Lookup(2) = %d/%v, want 2/true", idx, ok)
	}
}

func TestCommitRequiresCurrentTermEntry(t *testing.T) {
	n, _ := newTestNode(t, 1, 3)
	n.state.log.Append([]LogEntry{{UniqueID: 1, Term: 1}})
	makeLeader(n, 2)

	err := n.ReceiveAppendEntriesResponse(&AppendEntriesResponseArgs{
		FollowerID: 2, Term: 2, Success: true, AcknowledgedLogIndex: 1, AcknowledgedLogTerm: 1,
	})
	if err != nil {
		t.Fatalf("ReceiveAppendEntriesResponse failed: %v", err)
	}
	if n.state.commitIndex != 0 {
		t.Fatalf("entry from an earlier term committed by count: commitIndex %d", n.state.commitIndex)
	}

	n.Append(2, nil)
	n.ReceiveAppendEntriesResponse(&AppendEntriesResponseArgs{
		FollowerID: 2, Term: 2, Success: true, AcknowledgedLogIndex: 2, AcknowledgedLogTerm: 2,
	})
	if n.state.commitIndex != 2 {
		t.Errorf("commitIndex mismatch: got %d, want 2", n.state.commitIndex)
	}
}

func TestAppendEntriesResponseBackoff(t *testing.T) {
	n, rpc := newTestNode(t, 1, 3)
	for i := 1; i <= 10; i++ {
		n.state.log.AppendUser(uint32(i), 1, nil)
	}
	makeLeader(n, 2)
	rpc.reset()

	if n.state.nextIndex[1] != 11 {
		t.Fatalf("nextIndex mismatch: got %d, want 11", n.state.nextIndex[1])
	}

	// The follower only has 3 entries.
	err := n.ReceiveAppendEntriesResponse(&AppendEntriesResponseArgs{
		FollowerID: 2, Term: 2, AcknowledgedLogIndex: 3, AcknowledgedLogTerm: 1,
	})
	if err != nil {
		t.Fatalf("ReceiveAppendEntriesResponse failed: %v", err)
	}
	if n.state.nextIndex[1] != 4 {
		t.Errorf("nextIndex mismatch: got %d, want 4", n.state.nextIndex[1])
	}

	retry, ok := rpc.appendEntries()[2]
	if !ok {
		t.Fatal("leader should retry immediately")
	}
	if retry.PrevLogIndex != 3 || retry.PrevLogTerm != 1 || len(retry.Entries) != 7 {
		t.Errorf("retry mismatch: prev %d/%d entries %d", retry.PrevLogIndex, retry.PrevLogTerm, len(retry.Entries))
	}

	// A hint at or past nextIndex still backs off by one, and never below 1.
	n.ReceiveAppendEntriesResponse(&AppendEntriesResponseArgs{FollowerID: 2, Term: 2, AcknowledgedLogIndex: 9})
	if n.state.nextIndex[1] != 3 {
		t.Errorf("nextIndex mismatch: got %d, want 3", n.state.nextIndex[1])
	}
	for i := 0; i < 5; i++ {
		n.ReceiveAppendEntriesResponse(&AppendEntriesResponseArgs{FollowerID: 2, Term: 2})
	}
	if n.state.nextIndex[1] != 1 {
		t.Errorf("nextIndex mismatch: got %d, want 1", n.state.nextIndex[1])
	}
}

func TestAppendEntriesResponseIgnored(t *testing.T) {
	tests := []struct {
		name  string
		setup func(n *Node)
		args  AppendEntriesResponseArgs
	}{
		{"stale term", func(n *Node) { makeLeader(n, 3) }, AppendEntriesResponseArgs{FollowerID: 2, Term: 2, Success: true}},
		{"not leader", func(n *Node) { n.state.currentTerm = 3 }, AppendEntriesResponseArgs{FollowerID: 2, Term: 3, Success: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNode(t, 1, 3)
			tt.setup(n)
			match := append([]Index(nil), n.state.matchIndex...)

			args := tt.args
			if err := n.ReceiveAppendEntriesResponse(&args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range match {
				if n.state.matchIndex[i] != match[i] {
					t.Errorf("matchIndex[%d] changed", i)
				}
			}
		})
	}
}

func TestAppendEntriesResponseHigherTerm(t *testing.T) {
	n, _ := newTestNode(t, 1, 3)
	makeLeader(n, 2)

	if err := n.ReceiveAppendEntriesResponse(&AppendEntriesResponseArgs{FollowerID: 2, Term: 5}); err != nil {
		t.Fatalf("ReceiveAppendEntriesResponse failed: %v", err)
	}
	if n.Role() != RoleFollower || n.Term() != 5 || n.state.votedFor != 0 {
		t.Errorf("should step down: role %s term %d votedFor %d", n.Role(), n.Term(), n.state.votedFor)
	}
}

func TestAppendEntriesResponseInvalid(t *testing.T) {
	n, _ := newTestNode(t, 1, 3)
	makeLeader(n, 2)

	tests := []AppendEntriesResponseArgs{
		{FollowerID: 0, Term: 2, Success: true},
		{FollowerID: 1, Term: 2, Success: true},
		{FollowerID: 4, Term: 2, Success: true},
		{FollowerID: 2, Term: 2, Success: true, AcknowledgedLogIndex: 50},
	}
	for _, args := range tests {
		args := args
		if err := n.ReceiveAppendEntriesResponse(&args); !errors.Is(err, ErrInvalidArgs) {
			t.Errorf("%+v: expected ErrInvalidArgs, got %v", args, err)
		}
	}
	if err := n.ReceiveAppendEntriesResponse(nil); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("nil: expected ErrInvalidArgs, got %v", err)
	}
}

func TestNewLeaderResetsReplicationCounts(t *testing.T) {
	n, _ := newTestNode(t, 1, 3)
	n.state.log.Append([]LogEntry{{Term: 1}, {Term: 1}})
	n.state.commitIndex = 1
	n.state.log.at(1).ReplicationCount = 2
	n.state.log.at(2).ReplicationCount = 2

	makeLeader(n, 2)

	if n.state.log.at(1).ReplicationCount != 2 {
		t.Error("committed entry count should be left alone")
	}
	if n.state.log.at(2).ReplicationCount != 0 {
		t.Error("uncommitted entry count should reset")
	}
}

func TestApplyStopsOnError(t *testing.T) {
	n, _ := newTestNode(t, 2, 3)
	calls := 0
	n.stateMachine = ApplyFunc(func(index Index, entry *LogEntry) error {
		calls++
		if index == 2 && calls < 3 {
			return errors.New("busy")
		}
		return nil
	})

	n.ReceiveAppendEntries(&AppendEntriesArgs{
		Term: 1, LeaderID: 1, Entries: []LogEntry{{Term: 1}, {Term: 1}, {Term: 1}}, LeaderCommit: 3,
	})
	if n.state.lastApplied != 1 {
		t.Fatalf("lastApplied mismatch: got %d, want 1", n.state.lastApplied)
	}

	n.ReceiveAppendEntries(&AppendEntriesArgs{Term: 1, LeaderID: 1, PrevLogIndex: 3, PrevLogTerm: 1, LeaderCommit: 3})
	if n.state.lastApplied != 3 {
		t.Errorf("lastApplied mismatch after retry: got %d, want 3", n.state.lastApplied)
	}
}
