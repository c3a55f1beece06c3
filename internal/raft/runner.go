package raft

import (
	"context"
	"time"
)

// inboxSize is the number of undelivered inbound messages a Runner buffers.
const inboxSize = 1024

// Runner drives a Node in real time. One goroutine owns the node: timer
// fires, inbound messages, proposals and status queries are serialized
// through channels, so the node itself needs no locking.
type Runner struct {
	node   *Node
	logger Logger

	// Touched only by the Run goroutine.
	timer     *time.Timer
	armedAt   time.Time
	armedKind EventKind
	pending   map[Index]*proposal
	userSM    StateMachine

	inbox     chan []byte
	proposals chan *proposal
	statusReq chan chan Status
	done      chan struct{}
}

type proposal struct {
	uniqueID uint32
	payload  []byte
	term     Term
	index    Index
	result   chan error
}

// NewRunner creates a node from cfg and a runner to drive it. The runner
// becomes the node's Scheduler, so cfg.Scheduler must be nil.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Scheduler != nil {
		return nil, ErrInvalidArgs
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	r := &Runner{
		timer:     timer,
		pending:   make(map[Index]*proposal),
		userSM:    cfg.StateMachine,
		inbox:     make(chan []byte, inboxSize),
		proposals: make(chan *proposal),
		statusReq: make(chan chan Status),
		done:      make(chan struct{}),
	}
	cfg.Scheduler = r
	cfg.StateMachine = ApplyFunc(r.apply)

	node, err := NewNode(cfg)
	if err != nil {
		return nil, err
	}
	r.node = node
	r.logger = node.logger
	return r, nil
}

// Schedule arms the runner's timer. It is called by the node on the Run
// goroutine and replaces any tick still pending.
func (r *Runner) Schedule(n *Node, delay time.Duration, kind EventKind) error {
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
	r.armedAt = time.Now()
	r.armedKind = kind
	r.timer.Reset(delay)
	return nil
}

// Run starts the node and processes events until ctx is cancelled. The node
// is stopped before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	if err := r.node.Start(); err != nil {
		return err
	}
	defer r.node.Stop()

	for {
		select {
		case <-ctx.Done():
			r.failPending(ErrNodeStopped)
			return nil

		case <-r.timer.C:
			elapsed := time.Since(r.armedAt)
			if err := r.node.HandleEvent(r.armedKind, elapsed); err != nil {
				r.logger.Warn("tick failed", "node", r.node.id, "error", err)
			}

		case msg := <-r.inbox:
			if !r.node.Active() {
				continue
			}
			if err := r.node.ReceiveMessage(msg); err != nil {
				r.logger.Debug("message rejected", "node", r.node.id, "error", err)
			}

		case p := <-r.proposals:
			r.propose(p)

		case ch := <-r.statusReq:
			ch <- r.node.Status()
		}

		if r.node.Role() != RoleLeader && len(r.pending) > 0 {
			r.failPending(ErrNotLeader)
		}
	}
}

// Deliver queues an inbound message for the node. It never blocks; when the
// inbox is full the message is dropped.
func (r *Runner) Deliver(msg []byte) {
	select {
	case r.inbox <- msg:
	case <-r.done:
	default:
		r.logger.Warn("inbox full, dropping message", "node", r.node.id)
	}
}

// Propose submits a command and waits until it is applied. It fails with
// ErrNotLeader if this node is not the leader or loses leadership first.
func (r *Runner) Propose(ctx context.Context, uniqueID uint32, payload []byte) error {
	p := &proposal{
		uniqueID: uniqueID,
		payload:  payload,
		result:   make(chan error, 1),
	}

	select {
	case r.proposals <- p:
	case <-r.done:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-p.result:
		return err
	case <-r.done:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the node's status.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	ch := make(chan Status, 1)
	select {
	case r.statusReq <- ch:
	case <-r.done:
		return Status{}, ErrNodeStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	select {
	case st := <-ch:
		return st, nil
	case <-r.done:
		return Status{}, ErrNodeStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (r *Runner) propose(p *proposal) {
	if err := r.node.Append(p.uniqueID, p.payload); err != nil {
		p.result <- err
		return
	}
	s := r.node.state
	p.term = s.currentTerm
	p.index = s.log.LastIndex()
	if s.lastApplied >= p.index {
		// Single-node clusters apply during Append.
		p.result <- nil
		return
	}
	r.pending[p.index] = p
}

// apply forwards committed entries to the configured state machine and
// resolves the proposal waiting on each index.
func (r *Runner) apply(index Index, entry *LogEntry) error {
	if r.userSM != nil {
		if err := r.userSM.Apply(index, entry); err != nil {
			return err
		}
	}
	if p, ok := r.pending[index]; ok {
		delete(r.pending, index)
		if entry.Term == p.term && entry.UniqueID == p.uniqueID {
			p.result <- nil
		} else {
			p.result <- ErrNotLeader
		}
	}
	return nil
}

func (r *Runner) failPending(err error) {
	for index, p := range r.pending {
		p.result <- err
		delete(r.pending, index)
	}
}
