package raft

import (
	"math"
	"time"
)

// NodeID identifies a cluster member. Members are numbered 1 to the cluster
// size; 0 means "none".
type NodeID uint32

// Term is a Raft election epoch.
type Term uint32

// Index is a position in the log. Index 0 is the sentinel.
type Index uint32

// Role is the Raft role a node currently plays.
type Role uint8

// Node roles.
const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

// String returns the string representation of a role.
func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// HardState is the part of NodeState that must survive a restart.
type HardState struct {
	CurrentTerm Term
	VotedFor    NodeID
}

// NodeState holds the state of a Raft node. It is owned by a single Node and
// is not safe for concurrent use.
type NodeState struct {
	// Persistent state (saved before any message that depends on it is sent)
	currentTerm Term
	votedFor    NodeID // 0 means not voted
	log         *Log

	// Volatile state on all servers
	role        Role
	active      bool
	commitIndex Index
	lastApplied Index
	leaderID    NodeID

	// Election timing
	heardFromLeader bool
	sinceLeaderPing time.Duration
	electionTimeout time.Duration

	// Candidate and leader state, indexed by NodeID-1
	ballot     []bool
	nextIndex  []Index
	matchIndex []Index
}

// newNodeState creates the state for one member of a cluster of nodeCount nodes.
func newNodeState(nodeCount int) *NodeState {
	return &NodeState{
		log:        NewLog(),
		role:       RoleFollower,
		ballot:     make([]bool, nodeCount),
		nextIndex:  make([]Index, nodeCount),
		matchIndex: make([]Index, nodeCount),
	}
}

// CurrentTerm returns the current term.
func (s *NodeState) CurrentTerm() Term {
	return s.currentTerm
}

// VotedFor returns the candidate voted for in the current term, or 0.
func (s *NodeState) VotedFor() NodeID {
	return s.votedFor
}

// Role returns the current role.
func (s *NodeState) Role() Role {
	return s.role
}

// Log returns the node's log.
func (s *NodeState) Log() *Log {
	return s.log
}

// CommitIndex returns the highest index known to be committed.
func (s *NodeState) CommitIndex() Index {
	return s.commitIndex
}

// LastApplied returns the highest index handed to the state machine.
func (s *NodeState) LastApplied() Index {
	return s.lastApplied
}

// LeaderID returns the last leader heard from in the current term, or 0.
func (s *NodeState) LeaderID() NodeID {
	return s.leaderID
}

func (s *NodeState) hardState() HardState {
	return HardState{CurrentTerm: s.currentTerm, VotedFor: s.votedFor}
}

func (s *NodeState) setHardState(hs HardState) {
	if hs.CurrentTerm != s.currentTerm {
		s.leaderID = 0
	}
	s.currentTerm = hs.CurrentTerm
	s.votedFor = hs.VotedFor
}

// nextTerm returns the term a new election would run in.
func (s *NodeState) nextTerm() (Term, error) {
	if s.currentTerm == math.MaxUint32 {
		return 0, ErrInvalidTerm
	}
	return s.currentTerm + 1, nil
}

// resetBallot clears every vote except the node's own.
func (s *NodeState) resetBallot(self NodeID) {
	for i := range s.ballot {
		s.ballot[i] = false
	}
	s.ballot[self-1] = true
}

// recordVote marks a granted vote and returns the number of votes held.
func (s *NodeState) recordVote(from NodeID) int {
	s.ballot[from-1] = true
	votes := 0
	for _, v := range s.ballot {
		if v {
			votes++
		}
	}
	return votes
}

// initLeaderState resets replication progress after winning an election.
func (s *NodeState) initLeaderState() {
	next := Index(s.log.Len())
	for i := range s.nextIndex {
		s.nextIndex[i] = next
		s.matchIndex[i] = 0
	}
	for i := uint32(s.commitIndex) + 1; i < s.log.Len(); i++ {
		s.log.at(i).ReplicationCount = 0
	}
}
