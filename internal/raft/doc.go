// Package raft implements the core of the Raft consensus algorithm as a
// tick-driven state machine.
//
// # Overview
//
// This package provides:
//   - Leader election with randomized timeouts
//   - Log replication with consistency checks and conflict truncation
//   - A bit-exact big-endian wire codec for the four Raft messages
//   - Pluggable transport, scheduler, state machine and hard-state store
//   - A TCP transport and a real-time Runner for production use
//
// Snapshots, log compaction and membership change are not supported.
//
// # Execution Model
//
// A Node never blocks and never starts goroutines. Time only advances when
// the caller invokes Tick (or HandleEvent from a Scheduler), and messages only
// arrive through ReceiveMessage or the typed Receive methods. All calls on a
// Node must come from one goroutine. Runner provides that goroutine for real
// deployments; tests drive nodes from a simulated clock instead.
//
// # Wire Format
//
// Every message starts with an 8-byte header: the 3-byte magic 0x000001, a
// type byte, and the big-endian total size. AppendEntries writes all entry
// metadata records before any payload, so a reader learns every size first.
//
// # Usage
//
// Run a node over TCP:
//
//	transport := raft.NewTCPTransport(":4445", peerAddrs)
//	runner, err := raft.NewRunner(raft.Config{
//	    ID:                 1,
//	    Peers:              []raft.NodeID{2, 3},
//	    LeaderPingInterval: 100 * time.Millisecond,
//	    ElectionTimeoutMin: 500 * time.Millisecond,
//	    ElectionTimeoutMax: 1000 * time.Millisecond,
//	    Transport:          transport,
//	    Store:              store,
//	})
//	if err != nil {
//	    return err
//	}
//	transport.Listen(runner.Deliver)
//	go runner.Run(ctx)
//
//	// Propose a command (only on leader)
//	err = runner.Propose(ctx, id, payload)
//
// # Failure Handling
//
// The cluster can tolerate (N-1)/2 failures for N nodes:
//   - 3 nodes: tolerates 1 failure
//   - 5 nodes: tolerates 2 failures
//   - 7 nodes: tolerates 3 failures
//
// # References
//
//   - Raft Paper: https://raft.github.io/raft.pdf
//   - Raft Visualization: https://raft.github.io/
package raft
