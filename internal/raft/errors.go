package raft

import "errors"

// Raft errors.
var (
	// ErrOutOfMemory is returned when the log or an envelope buffer cannot grow
	// any further within the limits the wire format can address.
	ErrOutOfMemory = errors.New("raft: out of memory")

	// ErrInvalidTerm is returned when a message carries a stale or impossible term.
	ErrInvalidTerm = errors.New("raft: invalid term")

	// ErrInvalidArgs is returned for structurally invalid calls: bad configuration,
	// unknown node IDs, or a message that is impossible in the current role.
	ErrInvalidArgs = errors.New("raft: invalid arguments")

	// ErrInvalidMessage is returned when wire bytes cannot be decoded.
	ErrInvalidMessage = errors.New("raft: invalid message")

	// ErrIndexOutOfRange is returned when accessing an invalid log index.
	ErrIndexOutOfRange = errors.New("raft: log index out of range")

	// ErrNotLeader is returned when a client append is attempted on a non-leader node.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrNodeStopped is returned when an operation is attempted on a stopped runner.
	ErrNodeStopped = errors.New("raft: node stopped")

	// ErrTransportClosed is returned when transport is closed.
	ErrTransportClosed = errors.New("raft: transport closed")

	// ErrConnectFailed is returned when connection to peer fails.
	ErrConnectFailed = errors.New("raft: connection failed")

	// ErrCorruptHardState is returned when persisted term and vote cannot be read back.
	ErrCorruptHardState = errors.New("raft: corrupt hard state")
)
