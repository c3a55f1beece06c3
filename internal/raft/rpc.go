package raft

import "fmt"

// RequestVoteArgs is sent by candidates to gather votes.
type RequestVoteArgs struct {
	Term         Term   // Candidate's term
	CandidateID  NodeID // Candidate requesting vote
	LastLogIndex Index  // Index of candidate's last log entry
	LastLogTerm  Term   // Term of candidate's last log entry
}

// RequestVoteResponseArgs is the answer to RequestVote.
type RequestVoteResponseArgs struct {
	FollowerID  NodeID // Voter
	Term        Term   // Voter's term after processing the request
	VoteGranted bool
}

// AppendEntriesArgs is sent by leader to replicate log entries. An empty
// Entries slice is a heartbeat.
type AppendEntriesArgs struct {
	Term         Term   // Leader's term
	LeaderID     NodeID // So follower can redirect clients
	PrevLogIndex Index  // Index of log entry immediately preceding new ones
	PrevLogTerm  Term   // Term of PrevLogIndex entry
	Entries      []LogEntry
	LeaderCommit Index // Leader's commitIndex
}

// AppendEntriesResponseArgs is the answer to AppendEntries.
type AppendEntriesResponseArgs struct {
	FollowerID NodeID
	Term       Term
	Success    bool

	// On success, the last index now known to match the leader. On failure,
	// a hint for where the leader should retry from.
	AcknowledgedLogIndex Index
	AcknowledgedLogTerm  Term
}

// ReceiveMessage decodes one wire message and dispatches it. Nothing is
// changed unless the whole message decodes.
func (n *Node) ReceiveMessage(data []byte) error {
	msgType, err := ReadMessageType(data)
	if err != nil {
		return err
	}

	switch msgType {
	case MsgRequestVote:
		args, err := ReadRequestVoteArgs(data)
		if err != nil {
			return err
		}
		return n.ReceiveRequestVote(args)
	case MsgRequestVoteResponse:
		args, err := ReadRequestVoteResponseArgs(data)
		if err != nil {
			return err
		}
		return n.ReceiveRequestVoteResponse(args)
	case MsgAppendEntries:
		args, err := ReadAppendEntriesArgs(data)
		if err != nil {
			return err
		}
		return n.ReceiveAppendEntries(args)
	case MsgAppendEntriesResponse:
		args, err := ReadAppendEntriesResponseArgs(data)
		if err != nil {
			return err
		}
		return n.ReceiveAppendEntriesResponse(args)
	default:
		// ReadMessageType only returns known types.
		panic(fmt.Sprintf("raft: unhandled message type %s", msgType))
	}
}

// ReceiveRequestVote handles a vote request. A response is always sent back
// to the candidate.
func (n *Node) ReceiveRequestVote(args *RequestVoteArgs) error {
	if args == nil || !n.isPeer(args.CandidateID) {
		return fmt.Errorf("%w: vote request from unknown node", ErrInvalidArgs)
	}

	s := n.state
	if args.Term > s.currentTerm {
		if err := n.adoptTerm(args.Term); err != nil {
			return err
		}
	}

	granted := false
	if args.Term == s.currentTerm &&
		(s.votedFor == 0 || s.votedFor == args.CandidateID) &&
		n.candidateUpToDate(args) {
		if err := n.saveHardState(HardState{CurrentTerm: s.currentTerm, VotedFor: args.CandidateID}); err != nil {
			return err
		}
		granted = true
		// A granted vote defers our own candidacy like a leader ping would.
		s.heardFromLeader = true
	}

	n.logger.Debug("vote requested",
		"node", n.id, "candidate", args.CandidateID, "term", args.Term, "granted", granted)

	n.sendRequestVoteResponse(args.CandidateID, &RequestVoteResponseArgs{
		FollowerID:  n.id,
		Term:        s.currentTerm,
		VoteGranted: granted,
	})
	return nil
}

// candidateUpToDate reports whether the candidate's log is at least as
// up-to-date as ours.
func (n *Node) candidateUpToDate(args *RequestVoteArgs) bool {
	lastTerm := n.state.log.LastTerm()
	if args.LastLogTerm != lastTerm {
		return args.LastLogTerm > lastTerm
	}
	return uint64(args.LastLogIndex)+1 >= uint64(n.state.log.Len())
}

// ReceiveRequestVoteResponse counts a vote. Only a candidate in the
// response's term may receive one.
func (n *Node) ReceiveRequestVoteResponse(args *RequestVoteResponseArgs) error {
	if args == nil {
		return ErrInvalidArgs
	}

	s := n.state
	switch {
	case args.Term > s.currentTerm:
		return fmt.Errorf("%w: vote response for term %d, current term %d", ErrInvalidTerm, args.Term, s.currentTerm)
	case args.Term < s.currentTerm:
		return nil
	}

	switch s.role {
	case RoleFollower:
		return fmt.Errorf("%w: follower received a vote response", ErrInvalidArgs)
	case RoleLeader:
		return nil
	}

	if !n.isPeer(args.FollowerID) {
		return fmt.Errorf("%w: vote response from unknown node %d", ErrInvalidArgs, args.FollowerID)
	}
	if !args.VoteGranted {
		return nil
	}

	votes := s.recordVote(args.FollowerID)
	n.logger.Debug("vote received", "node", n.id, "from", args.FollowerID, "term", s.currentTerm, "votes", votes)
	if votes > n.clusterSize()/2 {
		n.becomeLeader()
	}
	return nil
}

// ReceiveAppendEntries handles replication and heartbeats from a leader.
func (n *Node) ReceiveAppendEntries(args *AppendEntriesArgs) error {
	if args == nil || !n.isPeer(args.LeaderID) {
		return fmt.Errorf("%w: append entries from unknown node", ErrInvalidArgs)
	}

	s := n.state
	if args.Term < s.currentTerm {
		n.sendAppendEntriesResponse(args.LeaderID, &AppendEntriesResponseArgs{
			FollowerID:           n.id,
			Term:                 s.currentTerm,
			AcknowledgedLogIndex: s.log.LastIndex(),
			AcknowledgedLogTerm:  s.log.LastTerm(),
		})
		return fmt.Errorf("%w: append entries for term %d, current term %d", ErrInvalidTerm, args.Term, s.currentTerm)
	}

	if args.Term > s.currentTerm {
		if err := n.adoptTerm(args.Term); err != nil {
			return err
		}
	} else {
		switch s.role {
		case RoleLeader:
			return fmt.Errorf("%w: node %d also leads term %d", ErrInvalidArgs, args.LeaderID, args.Term)
		case RoleCandidate:
			s.role = RoleFollower
		}
	}

	s.heardFromLeader = true
	s.leaderID = args.LeaderID

	prevTerm, ok := s.log.TermAt(args.PrevLogIndex)
	if !ok || prevTerm != args.PrevLogTerm {
		hint := s.log.LastIndex()
		switch {
		case args.PrevLogIndex == 0:
			hint = 0
		case args.PrevLogIndex-1 < hint:
			hint = args.PrevLogIndex - 1
		}
		hintTerm, _ := s.log.TermAt(hint)
		n.logger.Debug("log mismatch",
			"node", n.id, "prevLogIndex", args.PrevLogIndex, "prevLogTerm", args.PrevLogTerm, "logLength", s.log.Len())
		n.sendAppendEntriesResponse(args.LeaderID, &AppendEntriesResponseArgs{
			FollowerID:           n.id,
			Term:                 s.currentTerm,
			AcknowledgedLogIndex: hint,
			AcknowledgedLogTerm:  hintTerm,
		})
		return nil
	}

	lastNew := uint64(args.PrevLogIndex) + uint64(len(args.Entries))
	if err := n.spliceEntries(args.PrevLogIndex+1, args.Entries); err != nil {
		return err
	}

	if args.LeaderCommit > s.commitIndex {
		commit := uint64(args.LeaderCommit)
		if lastNew < commit {
			commit = lastNew
		}
		if Index(commit) > s.commitIndex {
			s.commitIndex = Index(commit)
		}
	}
	n.applyCommitted()

	ackTerm, _ := s.log.TermAt(Index(lastNew))
	n.sendAppendEntriesResponse(args.LeaderID, &AppendEntriesResponseArgs{
		FollowerID:           n.id,
		Term:                 s.currentTerm,
		Success:              true,
		AcknowledgedLogIndex: Index(lastNew),
		AcknowledgedLogTerm:  ackTerm,
	})
	return nil
}

// spliceEntries writes entries starting at index from. Entries already
// present with the same term are kept; the first conflicting entry truncates
// the log from that point. Committed entries are never truncated.
func (n *Node) spliceEntries(from Index, entries []LogEntry) error {
	log := n.state.log

	i := 0
	conflict := false
	for ; i < len(entries); i++ {
		term, ok := log.TermAt(from + Index(i))
		if !ok {
			break
		}
		if term != entries[i].Term {
			conflict = true
			break
		}
	}
	if i == len(entries) {
		return nil
	}

	at := from + Index(i)
	if conflict {
		if at <= n.state.commitIndex {
			return fmt.Errorf("%w: conflicting entry at committed index %d", ErrInvalidArgs, at)
		}
		n.logger.Info("truncating conflicting entries", "node", n.id, "from", at, "logLength", log.Len())
		if err := log.TruncateFrom(at); err != nil {
			return err
		}
	}
	return log.Append(entries[i:])
}
