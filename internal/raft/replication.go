package raft

import "fmt"

// maxEntriesPerMessage caps how many entries one AppendEntries carries.
const maxEntriesPerMessage = 64

// Append submits a client command. Only the leader accepts commands; the
// entry is appended at the current term and replicated right away.
func (n *Node) Append(uniqueID uint32, payload []byte) error {
	s := n.state
	if s.role != RoleLeader {
		return ErrNotLeader
	}
	if err := s.log.AppendUser(uniqueID, s.currentTerm, payload); err != nil {
		return err
	}

	n.logger.Debug("entry appended", "node", n.id, "index", s.log.LastIndex(), "uniqueId", uniqueID)

	n.advanceCommitIndex()
	n.broadcastAppendEntries()
	return nil
}

// broadcastAppendEntries sends AppendEntries to all peers. Peers that are
// up to date receive a heartbeat.
func (n *Node) broadcastAppendEntries() {
	for _, peer := range n.peers {
		n.replicateTo(peer)
	}
}

func (n *Node) replicateTo(peer NodeID) {
	s := n.state
	if s.role != RoleLeader {
		return
	}

	next := s.nextIndex[peer-1]
	if next == 0 {
		next = 1
	}
	prevLogIndex := next - 1
	prevLogTerm, _ := s.log.TermAt(prevLogIndex)

	args := &AppendEntriesArgs{
		Term:         s.currentTerm,
		LeaderID:     n.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      s.log.Slice(next, maxEntriesPerMessage),
		LeaderCommit: s.commitIndex,
	}
	if err := n.rpc.AppendEntries(peer, args); err != nil {
		n.logger.Debug("send append entries failed", "node", n.id, "peer", peer, "error", err)
	}
}

// ReceiveAppendEntriesResponse updates replication progress for a follower.
func (n *Node) ReceiveAppendEntriesResponse(args *AppendEntriesResponseArgs) error {
	if args == nil {
		return ErrInvalidArgs
	}

	s := n.state
	if args.Term > s.currentTerm {
		return n.adoptTerm(args.Term)
	}
	if args.Term < s.currentTerm || s.role != RoleLeader {
		return nil
	}
	if !n.isPeer(args.FollowerID) {
		return fmt.Errorf("%w: append entries response from unknown node %d", ErrInvalidArgs, args.FollowerID)
	}

	p := args.FollowerID - 1
	if !args.Success {
		next := s.nextIndex[p]
		if next > 1 {
			next--
		}
		if hint := args.AcknowledgedLogIndex + 1; hint < next {
			next = hint
		}
		if next < 1 {
			next = 1
		}
		s.nextIndex[p] = next
		n.logger.Debug("follower behind", "node", n.id, "peer", args.FollowerID, "nextIndex", next)
		n.replicateTo(args.FollowerID)
		return nil
	}

	ack := args.AcknowledgedLogIndex
	if ack > s.log.LastIndex() {
		return fmt.Errorf("%w: node %d acknowledged index %d beyond log end %d",
			ErrInvalidArgs, args.FollowerID, ack, s.log.LastIndex())
	}

	if ack > s.matchIndex[p] {
		from := s.matchIndex[p]
		if s.commitIndex > from {
			from = s.commitIndex
		}
		for i := uint32(from) + 1; i <= uint32(ack); i++ {
			s.log.at(i).ReplicationCount++
		}
		s.matchIndex[p] = ack
	}
	if s.nextIndex[p] <= s.matchIndex[p] {
		s.nextIndex[p] = s.matchIndex[p] + 1
	}

	n.advanceCommitIndex()

	if uint32(s.nextIndex[p]) < s.log.Len() {
		n.replicateTo(args.FollowerID)
	}
	return nil
}

// advanceCommitIndex commits the highest current-term entry that a majority
// holds, then applies newly committed entries. Entries from earlier terms
// commit along with it.
func (n *Node) advanceCommitIndex() {
	s := n.state
	if s.role != RoleLeader {
		return
	}

	majority := n.clusterSize()/2 + 1
	for i := s.log.Len() - 1; i > uint32(s.commitIndex); i-- {
		e := s.log.at(i)
		if e.Term != s.currentTerm {
			// Earlier entries are older still.
			if e.Term < s.currentTerm {
				break
			}
			continue
		}
		if int(e.ReplicationCount)+1 >= majority {
			s.commitIndex = Index(i)
			n.logger.Debug("commit advanced", "node", n.id, "commitIndex", i, "term", s.currentTerm)
			break
		}
	}
	n.applyCommitted()
}

// applyCommitted hands committed User entries to the state machine in index
// order. An apply error is logged and stops the pass; the entry is retried
// the next time the commit index is checked.
func (n *Node) applyCommitted() {
	s := n.state
	for s.lastApplied < s.commitIndex {
		index := s.lastApplied + 1
		e := s.log.at(uint32(index))
		if e.Kind == EntryUser && n.stateMachine != nil {
			if err := n.stateMachine.Apply(index, e); err != nil {
				n.logger.Error("apply failed", "node", n.id, "index", index, "error", err)
				return
			}
		}
		s.lastApplied = index
	}
}
