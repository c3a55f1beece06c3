package raft

import (
	"fmt"
	"time"
)

// EventKind identifies a scheduled event.
type EventKind uint8

// Event kinds.
const (
	EventTick EventKind = iota + 1
)

// String returns the string representation of an event kind.
func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Transport sends encoded messages to peers.
type Transport interface {
	// Send delivers msg to recipient. It must not block on the peer
	// processing the message. The node never reuses msg after Send returns.
	Send(recipient NodeID, msg []byte) error
}

// RPC is the typed binding for outbound messages, for callers that deliver
// messages in-process without going through the wire codec.
type RPC interface {
	RequestVote(to NodeID, args *RequestVoteArgs) error
	RequestVoteResponse(to NodeID, args *RequestVoteResponseArgs) error
	AppendEntries(to NodeID, args *AppendEntriesArgs) error
	AppendEntriesResponse(to NodeID, args *AppendEntriesResponseArgs) error
}

// Scheduler arranges for HandleEvent to be called on a node after a delay.
// Scheduling replaces any event still pending for the same node.
type Scheduler interface {
	Schedule(n *Node, delay time.Duration, kind EventKind) error
}

// StateMachine receives committed User entries in index order.
type StateMachine interface {
	Apply(index Index, entry *LogEntry) error
}

// ApplyFunc adapts a function to the StateMachine interface.
type ApplyFunc func(index Index, entry *LogEntry) error

// Apply calls f(index, entry).
func (f ApplyFunc) Apply(index Index, entry *LogEntry) error {
	return f(index, entry)
}

// Logger interface for Raft logging
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// defaultLogger is a no-op logger
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, args ...interface{}) {}
func (l *defaultLogger) Info(msg string, args ...interface{})  {}
func (l *defaultLogger) Warn(msg string, args ...interface{})  {}
func (l *defaultLogger) Error(msg string, args ...interface{}) {}

// wireRPC implements RPC by encoding every message and handing the bytes to
// a Transport.
type wireRPC struct {
	transport Transport
}

// NewWireRPC returns an RPC that encodes messages with the wire codec and
// sends them through t.
func NewWireRPC(t Transport) RPC {
	return &wireRPC{transport: t}
}

func (w *wireRPC) send(env *Envelope, err error) error {
	if err != nil {
		return err
	}
	defer env.Release()
	return w.transport.Send(env.Recipient, env.Bytes())
}

func (w *wireRPC) RequestVote(to NodeID, args *RequestVoteArgs) error {
	return w.send(WriteRequestVoteEnvelope(to, args))
}

func (w *wireRPC) RequestVoteResponse(to NodeID, args *RequestVoteResponseArgs) error {
	return w.send(WriteRequestVoteResponseEnvelope(to, args))
}

func (w *wireRPC) AppendEntries(to NodeID, args *AppendEntriesArgs) error {
	return w.send(WriteAppendEntriesEnvelope(to, args))
}

func (w *wireRPC) AppendEntriesResponse(to NodeID, args *AppendEntriesResponseArgs) error {
	return w.send(WriteAppendEntriesResponseEnvelope(to, args))
}
