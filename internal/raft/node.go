package raft

import (
	"fmt"
	"math/rand"
	"time"
)

// Config holds configuration for a Raft node.
type Config struct {
	ID    NodeID   // This node, in 1..len(Peers)+1
	Peers []NodeID // Every other member of the cluster

	LeaderPingInterval time.Duration // Heartbeat interval while leading
	ElectionTimeoutMin time.Duration // Inclusive lower bound of the election timeout
	ElectionTimeoutMax time.Duration // Exclusive upper bound of the election timeout

	// Exactly one outbound binding must be set.
	Transport Transport // Encoded messages
	RPC       RPC       // Typed messages

	Scheduler    Scheduler      // Optional; without it the caller drives Tick directly
	StateMachine StateMachine   // Optional; receives committed entries
	Store        HardStateStore // Optional; persists term and vote
	Logger       Logger         // Optional; defaults to a no-op logger
	Rand         *rand.Rand     // Optional; source of election timeout jitter
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return fmt.Errorf("%w: election timeout max %v must exceed min %v",
			ErrInvalidArgs, c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if c.ElectionTimeoutMin <= 0 {
		return fmt.Errorf("%w: election timeout min must be positive", ErrInvalidArgs)
	}
	if c.LeaderPingInterval <= 0 {
		return fmt.Errorf("%w: leader ping interval must be positive", ErrInvalidArgs)
	}

	size := len(c.Peers) + 1
	if c.ID == 0 || int(c.ID) > size {
		return fmt.Errorf("%w: node id %d outside 1..%d", ErrInvalidArgs, c.ID, size)
	}
	seen := make(map[NodeID]bool, len(c.Peers))
	for _, p := range c.Peers {
		switch {
		case p == c.ID:
			return fmt.Errorf("%w: node %d lists itself as a peer", ErrInvalidArgs, p)
		case p == 0 || int(p) > size:
			return fmt.Errorf("%w: peer id %d outside 1..%d", ErrInvalidArgs, p, size)
		case seen[p]:
			return fmt.Errorf("%w: duplicate peer %d", ErrInvalidArgs, p)
		}
		seen[p] = true
	}

	if (c.Transport == nil) == (c.RPC == nil) {
		return fmt.Errorf("%w: exactly one of Transport and RPC must be set", ErrInvalidArgs)
	}
	return nil
}

// Status is a snapshot of a node's externally visible state.
type Status struct {
	ID          NodeID
	Role        Role
	Term        Term
	VotedFor    NodeID
	LeaderID    NodeID
	CommitIndex Index
	LastApplied Index
	LogLength   uint32
	Active      bool
}

// Node is a single Raft cluster member. It never blocks and never starts
// goroutines: time advances only through Tick or HandleEvent, and messages
// arrive only through the Receive methods. A Node is not safe for concurrent
// use; see Runner for a real-time driver.
type Node struct {
	id    NodeID
	peers []NodeID
	cfg   Config

	state *NodeState

	rpc          RPC
	scheduler    Scheduler
	stateMachine StateMachine
	store        HardStateStore
	logger       Logger
	rand         *rand.Rand
}

// NewNode creates a new Raft node. The node starts inactive as a Follower;
// call Start to begin ticking.
func NewNode(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		id:           cfg.ID,
		peers:        append([]NodeID(nil), cfg.Peers...),
		cfg:          cfg,
		state:        newNodeState(len(cfg.Peers) + 1),
		rpc:          cfg.RPC,
		scheduler:    cfg.Scheduler,
		stateMachine: cfg.StateMachine,
		store:        cfg.Store,
		logger:       cfg.Logger,
		rand:         cfg.Rand,
	}
	if n.rpc == nil {
		n.rpc = NewWireRPC(cfg.Transport)
	}
	if n.logger == nil {
		n.logger = &defaultLogger{}
	}
	if n.rand == nil {
		n.rand = rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID)))
	}

	if n.store != nil {
		hs, err := n.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load hard state: %w", err)
		}
		if hs.VotedFor != 0 && !n.isMember(hs.VotedFor) {
			return nil, fmt.Errorf("%w: stored vote for unknown node %d", ErrCorruptHardState, hs.VotedFor)
		}
		n.state.setHardState(hs)
	}
	n.state.electionTimeout = n.randomElectionTimeout()

	return n, nil
}

// ID returns the node's ID.
func (n *Node) ID() NodeID {
	return n.id
}

// Role returns the current role.
func (n *Node) Role() Role {
	return n.state.role
}

// Term returns the current term.
func (n *Node) Term() Term {
	return n.state.currentTerm
}

// Active reports whether the node has been started and not stopped.
func (n *Node) Active() bool {
	return n.state.active
}

// State returns the node's state for inspection.
func (n *Node) State() *NodeState {
	return n.state
}

// Status returns a snapshot of the node's state.
func (n *Node) Status() Status {
	s := n.state
	return Status{
		ID:          n.id,
		Role:        s.role,
		Term:        s.currentTerm,
		VotedFor:    s.votedFor,
		LeaderID:    s.leaderID,
		CommitIndex: s.commitIndex,
		LastApplied: s.lastApplied,
		LogLength:   s.log.Len(),
		Active:      s.active,
	}
}

// Start activates the node and schedules its first tick.
func (n *Node) Start() error {
	s := n.state
	if s.active {
		return nil
	}
	s.active = true
	s.heardFromLeader = false
	s.sinceLeaderPing = 0
	s.electionTimeout = n.randomElectionTimeout()

	n.logger.Info("node started", "node", n.id, "term", s.currentTerm)
	return n.schedule(s.electionTimeout)
}

// Stop deactivates the node. A pending tick is not cancelled; it becomes a
// no-op when it fires.
func (n *Node) Stop() {
	s := n.state
	if !s.active {
		return
	}
	s.active = false
	s.role = RoleFollower
	n.logger.Info("node stopped", "node", n.id, "term", s.currentTerm)
}

// HandleEvent runs a scheduled event and schedules the next tick while the
// node is active. elapsed is the time since the event was scheduled.
func (n *Node) HandleEvent(kind EventKind, elapsed time.Duration) error {
	if kind != EventTick {
		return fmt.Errorf("%w: unknown event %s", ErrInvalidArgs, kind)
	}

	next, err := n.Tick(elapsed)
	if !n.state.active {
		return err
	}
	if serr := n.schedule(next); err == nil {
		err = serr
	}
	return err
}

// Tick advances the node's clock by elapsed and returns the delay after
// which it wants to be ticked again. It is a no-op on an inactive node.
func (n *Node) Tick(elapsed time.Duration) (time.Duration, error) {
	s := n.state
	if !s.active {
		return 0, nil
	}

	if s.role == RoleLeader {
		n.broadcastAppendEntries()
		return n.cfg.LeaderPingInterval, nil
	}

	if s.heardFromLeader {
		s.heardFromLeader = false
		s.sinceLeaderPing = 0
		s.electionTimeout = n.randomElectionTimeout()
		return s.electionTimeout, nil
	}

	s.sinceLeaderPing += elapsed
	if s.sinceLeaderPing < s.electionTimeout {
		return s.electionTimeout - s.sinceLeaderPing, nil
	}
	return n.startElection()
}

// startElection becomes a candidate for the next term and asks every peer
// for its vote.
func (n *Node) startElection() (time.Duration, error) {
	s := n.state

	term, err := s.nextTerm()
	if err != nil {
		return s.electionTimeout, err
	}
	if err := n.saveHardState(HardState{CurrentTerm: term, VotedFor: n.id}); err != nil {
		return s.electionTimeout, err
	}
	s.role = RoleCandidate
	s.resetBallot(n.id)
	s.sinceLeaderPing = 0
	s.electionTimeout = n.randomElectionTimeout()

	n.logger.Info("starting election", "node", n.id, "term", term)

	if n.clusterSize() == 1 {
		n.becomeLeader()
		return n.cfg.LeaderPingInterval, nil
	}

	args := &RequestVoteArgs{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: s.log.LastIndex(),
		LastLogTerm:  s.log.LastTerm(),
	}
	for _, peer := range n.peers {
		if err := n.rpc.RequestVote(peer, args); err != nil {
			n.logger.Debug("send request vote failed", "node", n.id, "peer", peer, "error", err)
		}
	}
	return s.electionTimeout, nil
}

// becomeLeader takes leadership of the current term and asserts it with an
// immediate round of heartbeats.
func (n *Node) becomeLeader() {
	s := n.state
	s.role = RoleLeader
	s.leaderID = n.id
	s.heardFromLeader = false
	s.sinceLeaderPing = 0
	s.initLeaderState()

	n.logger.Info("became leader", "node", n.id, "term", s.currentTerm)

	n.broadcastAppendEntries()
	n.advanceCommitIndex()
	if err := n.schedule(n.cfg.LeaderPingInterval); err != nil {
		n.logger.Warn("schedule heartbeat failed", "node", n.id, "error", err)
	}
}

// adoptTerm moves to a newer term as a follower with no vote cast.
func (n *Node) adoptTerm(term Term) error {
	if err := n.saveHardState(HardState{CurrentTerm: term}); err != nil {
		return err
	}
	s := n.state
	if s.role != RoleFollower {
		n.logger.Info("stepping down", "node", n.id, "role", s.role.String(), "term", term)
	}
	s.role = RoleFollower
	return nil
}

// saveHardState persists hs and then applies it, so a failed save leaves
// the node unchanged.
func (n *Node) saveHardState(hs HardState) error {
	if n.store != nil && hs != n.state.hardState() {
		if err := n.store.Save(hs); err != nil {
			n.logger.Error("save hard state failed", "node", n.id, "term", hs.CurrentTerm, "error", err)
			return fmt.Errorf("save hard state: %w", err)
		}
	}
	n.state.setHardState(hs)
	return nil
}

func (n *Node) schedule(delay time.Duration) error {
	if n.scheduler == nil {
		return nil
	}
	return n.scheduler.Schedule(n, delay, EventTick)
}

func (n *Node) randomElectionTimeout() time.Duration {
	span := int64(n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin)
	return n.cfg.ElectionTimeoutMin + time.Duration(n.rand.Int63n(span))
}

func (n *Node) clusterSize() int {
	return len(n.peers) + 1
}

// isMember reports whether id names a node of this cluster, self included.
func (n *Node) isMember(id NodeID) bool {
	return id != 0 && int(id) <= n.clusterSize()
}

// isPeer reports whether id names another node of this cluster.
func (n *Node) isPeer(id NodeID) bool {
	return n.isMember(id) && id != n.id
}

func (n *Node) sendRequestVoteResponse(to NodeID, args *RequestVoteResponseArgs) {
	if err := n.rpc.RequestVoteResponse(to, args); err != nil {
		n.logger.Debug("send request vote response failed", "node", n.id, "peer", to, "error", err)
	}
}

func (n *Node) sendAppendEntriesResponse(to NodeID, args *AppendEntriesResponseArgs) {
	if err := n.rpc.AppendEntriesResponse(to, args); err != nil {
		n.logger.Debug("send append entries response failed", "node", n.id, "peer", to, "error", err)
	}
}
