package raft

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

const (
	testPingInterval = 100 * time.Millisecond
	testTimeoutMin   = 500 * time.Millisecond
	testTimeoutMax   = 1000 * time.Millisecond
)

// sentMessage is one outbound message captured by recordingRPC.
type sentMessage struct {
	to  NodeID
	msg interface{}
}

// recordingRPC captures outbound messages instead of sending them.
type recordingRPC struct {
	sent []sentMessage
	err  error
}

func (r *recordingRPC) RequestVote(to NodeID, args *RequestVoteArgs) error {
	r.sent = append(r.sent, sentMessage{to, args})
	return r.err
}

func (r *recordingRPC) RequestVoteResponse(to NodeID, args *RequestVoteResponseArgs) error {
	r.sent = append(r.sent, sentMessage{to, args})
	return r.err
}

func (r *recordingRPC) AppendEntries(to NodeID, args *AppendEntriesArgs) error {
	r.sent = append(r.sent, sentMessage{to, args})
	return r.err
}

func (r *recordingRPC) AppendEntriesResponse(to NodeID, args *AppendEntriesResponseArgs) error {
	r.sent = append(r.sent, sentMessage{to, args})
	return r.err
}

func (r *recordingRPC) reset() {
	r.sent = nil
}

func (r *recordingRPC) requestVotes() map[NodeID]*RequestVoteArgs {
	out := make(map[NodeID]*RequestVoteArgs)
	for _, m := range r.sent {
		if args, ok := m.msg.(*RequestVoteArgs); ok {
			out[m.to] = args
		}
	}
	return out
}

func (r *recordingRPC) appendEntries() map[NodeID]*AppendEntriesArgs {
	out := make(map[NodeID]*AppendEntriesArgs)
	for _, m := range r.sent {
		if args, ok := m.msg.(*AppendEntriesArgs); ok {
			out[m.to] = args
		}
	}
	return out
}

func (r *recordingRPC) lastVoteResponse(t *testing.T) (NodeID, *RequestVoteResponseArgs) {
	t.Helper()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if args, ok := r.sent[i].msg.(*RequestVoteResponseArgs); ok {
			return r.sent[i].to, args
		}
	}
	t.Fatal("no RequestVoteResponse sent")
	return 0, nil
}

func (r *recordingRPC) lastAppendResponse(t *testing.T) (NodeID, *AppendEntriesResponseArgs) {
	t.Helper()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if args, ok := r.sent[i].msg.(*AppendEntriesResponseArgs); ok {
			return r.sent[i].to, args
		}
	}
	t.Fatal("no AppendEntriesResponse sent")
	return 0, nil
}

// recordingScheduler captures Schedule calls.
type recordingScheduler struct {
	delays []time.Duration
}

func (s *recordingScheduler) Schedule(n *Node, delay time.Duration, kind EventKind) error {
	s.delays = append(s.delays, delay)
	return nil
}

func (s *recordingScheduler) last() time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	return s.delays[len(s.delays)-1]
}

func testConfig(id NodeID, size int) Config {
	peers := make([]NodeID, 0, size-1)
	for i := 1; i <= size; i++ {
		if NodeID(i) != id {
			peers = append(peers, NodeID(i))
		}
	}
	return Config{
		ID:                 id,
		Peers:              peers,
		LeaderPingInterval: testPingInterval,
		ElectionTimeoutMin: testTimeoutMin,
		ElectionTimeoutMax: testTimeoutMax,
		Rand:               rand.New(rand.NewSource(int64(id))),
	}
}

// newTestNode creates an active node of a cluster of size whose outbound
// messages are recorded.
func newTestNode(t *testing.T, id NodeID, size int) (*Node, *recordingRPC) {
	t.Helper()

	rpc := &recordingRPC{}
	cfg := testConfig(id, size)
	cfg.RPC = rpc

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return n, rpc
}

// makeLeader puts n in the leader role for term.
func makeLeader(n *Node, term Term) {
	n.state.currentTerm = term
	n.state.votedFor = n.id
	n.becomeLeader()
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := testConfig(1, 3)
		cfg.RPC = &recordingRPC{}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max equals min", func(c *Config) { c.ElectionTimeoutMax = c.ElectionTimeoutMin }},
		{"max below min", func(c *Config) { c.ElectionTimeoutMax = c.ElectionTimeoutMin - 1 }},
		{"zero min", func(c *Config) { c.ElectionTimeoutMin = 0 }},
		{"zero ping", func(c *Config) { c.LeaderPingInterval = 0 }},
		{"zero id", func(c *Config) { c.ID = 0 }},
		{"id outside cluster", func(c *Config) { c.ID = 4 }},
		{"self as peer", func(c *Config) { c.Peers = []NodeID{1, 2} }},
		{"duplicate peer", func(c *Config) { c.Peers = []NodeID{2, 2} }},
		{"peer outside cluster", func(c *Config) { c.Peers = []NodeID{2, 9} }},
		{"no binding", func(c *Config) { c.RPC = nil }},
		{"both bindings", func(c *Config) { c.Transport = NewInMemoryNetwork().NewTransport(1) }},
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidArgs) {
				t.Errorf("expected ErrInvalidArgs, got %v", err)
			}
			if _, err := NewNode(cfg); !errors.Is(err, ErrInvalidArgs) {
				t.Errorf("NewNode: expected ErrInvalidArgs, got %v", err)
			}
		})
	}
}

func TestNewNodeInitialState(t *testing.T) {
	cfg := testConfig(3, 5)
	cfg.Transport = NewInMemoryNetwork().NewTransport(3)

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	st := n.Status()
	if st.ID != 3 {
		t.Errorf("ID mismatch: got %d, want 3", st.ID)
	}
	if st.Role != RoleFollower {
		t.Errorf("Role mismatch: got %s, want follower", st.Role)
	}
	if st.Term != 0 || st.VotedFor != 0 || st.CommitIndex != 0 {
		t.Errorf("unexpected initial state: %+v", st)
	}
	if st.LogLength != 1 {
		t.Errorf("LogLength mismatch: got %d, want 1", st.LogLength)
	}
	if st.Active {
		t.Error("node should start inactive")
	}

	timeout := n.state.electionTimeout
	if timeout < testTimeoutMin || timeout >= testTimeoutMax {
		t.Errorf("election timeout %v outside [%v, %v)", timeout, testTimeoutMin, testTimeoutMax)
	}
}

func TestElectionTimeoutRange(t *testing.T) {
	n, _ := newTestNode(t, 1, 5)

	for i := 0; i < 1000; i++ {
		d := n.randomElectionTimeout()
		if d < testTimeoutMin || d >= testTimeoutMax {
			t.Fatalf("timeout %v outside [%v, %v)", d, testTimeoutMin, testTimeoutMax)
		}
	}
}

func TestTickInactiveIsNoop(t *testing.T) {
	cfg := testConfig(1, 3)
	rpc := &recordingRPC{}
	cfg.RPC = rpc
	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	next, err := n.Tick(10 * time.Second)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if next != 0 {
		t.Errorf("inactive tick should not reschedule, got %v", next)
	}
	if n.Role() != RoleFollower || n.Term() != 0 || len(rpc.sent) != 0 {
		t.Error("inactive tick changed state")
	}
}

func TestTickCountsDownElectionTimeout(t *testing.T) {
	n, rpc := newTestNode(t, 1, 5)
	timeout := n.state.electionTimeout

	next, err := n.Tick(timeout / 2)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if next != timeout-timeout/2 {
		t.Errorf("remaining mismatch: got %v, want %v", next, timeout-timeout/2)
	}
	if n.Role() != RoleFollower || len(rpc.sent) != 0 {
		t.Error("election started before timeout")
	}
}

func TestTickStartsElection(t *testing.T) {
	n, rpc := newTestNode(t, 2, 5)

	next, err := n.Tick(testTimeoutMax)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if n.Role() != RoleCandidate {
		t.Fatalf("Role mismatch: got %s, want candidate", n.Role())
	}
	if n.Term() != 1 {
		t.Errorf("Term mismatch: got %d, want 1", n.Term())
	}
	if n.state.votedFor != 2 {
		t.Errorf("VotedFor mismatch: got %d, want 2", n.state.votedFor)
	}
	for i, voted := range n.state.ballot {
		if voted != (i == 1) {
			t.Errorf("ballot[%d] = %v", i, voted)
		}
	}
	if next < testTimeoutMin || next >= testTimeoutMax {
		t.Errorf("reschedule %v outside election timeout range", next)
	}

	votes := rpc.requestVotes()
	if len(votes) != 4 {
		t.Fatalf("RequestVote count mismatch: got %d, want 4", len(votes))
	}
	for _, peer := range []NodeID{1, 3, 4, 5} {
		args, ok := votes[peer]
		if !ok {
			t.Errorf("no RequestVote sent to %d", peer)
			continue
		}
		if args.Term != 1 || args.CandidateID != 2 || args.LastLogIndex != 0 || args.LastLogTerm != 0 {
			t.Errorf("RequestVote to %d mismatch: %+v", peer, args)
		}
	}
}

func TestTickHeardFromLeader(t *testing.T) {
	n, rpc := newTestNode(t, 1, 3)
	n.state.heardFromLeader = true
	n.state.sinceLeaderPing = 400 * time.Millisecond

	next, err := n.Tick(testTimeoutMax)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if n.Role() != RoleFollower {
		t.Errorf("Role mismatch: got %s, want follower", n.Role())
	}
	if n.state.heardFromLeader {
		t.Error("heardFromLeader should be cleared")
	}
	if n.state.sinceLeaderPing != 0 {
		t.Errorf("sinceLeaderPing should reset, got %v", n.state.sinceLeaderPing)
	}
	if next != n.state.electionTimeout {
		t.Errorf("reschedule mismatch: got %v, want %v", next, n.state.electionTimeout)
	}
	if len(rpc.sent) != 0 {
		t.Errorf("unexpected messages: %d", len(rpc.sent))
	}
}

func TestTickLeaderHeartbeat(t *testing.T) {
	n, rpc := newTestNode(t, 1, 3)
	makeLeader(n, 4)
	rpc.reset()

	next, err := n.Tick(testPingInterval)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if next != testPingInterval {
		t.Errorf("reschedule mismatch: got %v, want %v", next, testPingInterval)
	}

	beats := rpc.appendEntries()
	if len(beats) != 2 {
		t.Fatalf("heartbeat count mismatch: got %d, want 2", len(beats))
	}
	for peer, args := range beats {
		if args.Term != 4 || args.LeaderID != 1 || len(args.Entries) != 0 {
			t.Errorf("heartbeat to %d mismatch: %+v", peer, args)
		}
	}
}

func TestSingleNodeElectsItself(t *testing.T) {
	n, rpc := newTestNode(t, 1, 1)

	next, err := n.Tick(testTimeoutMax)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if n.Role() != RoleLeader {
		t.Fatalf("Role mismatch: got %s, want leader", n.Role())
	}
	if next != testPingInterval {
		t.Errorf("reschedule mismatch: got %v, want %v", next, testPingInterval)
	}
	if len(rpc.sent) != 0 {
		t.Errorf("single node sent %d messages", len(rpc.sent))
	}

	if err := n.Append(9, []byte("cmd")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if n.state.commitIndex != 1 {
		t.Errorf("single node should commit at once, commitIndex %d", n.state.commitIndex)
	}
}

func TestStopStart(t *testing.T) {
	sched := &recordingScheduler{}
	cfg := testConfig(1, 3)
	cfg.RPC = &recordingRPC{}
	cfg.Scheduler = sched

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(sched.delays) != 1 || sched.last() != n.state.electionTimeout {
		t.Fatalf("Start should schedule the first tick, got %v", sched.delays)
	}

	// Starting twice does nothing.
	n.Start()
	if len(sched.delays) != 1 {
		t.Errorf("second Start scheduled again: %v", sched.delays)
	}

	makeLeader(n, 2)
	n.Stop()
	if n.Active() {
		t.Error("node should be inactive")
	}
	if n.Role() != RoleFollower {
		t.Errorf("Stop should force follower, got %s", n.Role())
	}

	// The pending tick fires on a stopped node and is not rescheduled.
	scheduled := len(sched.delays)
	if err := n.HandleEvent(EventTick, testPingInterval); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if len(sched.delays) != scheduled {
		t.Error("stopped node rescheduled itself")
	}

	if err := n.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if len(sched.delays) != scheduled+1 {
		t.Error("restart should schedule a tick")
	}
}

func TestHandleEventReschedules(t *testing.T) {
	sched := &recordingScheduler{}
	cfg := testConfig(1, 3)
	cfg.RPC = &recordingRPC{}
	cfg.Scheduler = sched

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	n.Start()

	timeout := n.state.electionTimeout
	if err := n.HandleEvent(EventTick, timeout/4); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if sched.last() != timeout-timeout/4 {
		t.Errorf("reschedule mismatch: got %v, want %v", sched.last(), timeout-timeout/4)
	}

	if err := n.HandleEvent(EventKind(99), 0); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("unknown event: expected ErrInvalidArgs, got %v", err)
	}
}

func TestAppendNotLeader(t *testing.T) {
	n, _ := newTestNode(t, 1, 3)

	if err := n.Append(1, []byte("x")); !errors.Is(err, ErrNotLeader) {
		t.Errorf("expected ErrNotLeader, got %v", err)
	}
	if n.state.log.Len() != 1 {
		t.Error("rejected append modified the log")
	}
}

func TestHardStatePersistence(t *testing.T) {
	store := NewMemoryStore()

	cfg := testConfig(1, 3)
	cfg.RPC = &recordingRPC{}
	cfg.Store = store
	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	n.Start()
	n.Tick(testTimeoutMax)

	hs, _ := store.Load()
	if hs.CurrentTerm != 1 || hs.VotedFor != 1 {
		t.Fatalf("stored state mismatch: %+v", hs)
	}

	// A rebuilt node resumes from the stored term and vote.
	cfg.Rand = rand.New(rand.NewSource(2))
	restarted, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	if restarted.Term() != 1 || restarted.state.votedFor != 1 {
		t.Errorf("restarted state mismatch: term %d votedFor %d", restarted.Term(), restarted.state.votedFor)
	}
}

type failingStore struct{}

func (failingStore) Load() (HardState, error) { return HardState{}, nil }
func (failingStore) Save(HardState) error     { return errors.New("disk full") }

func TestHardStateSaveFailure(t *testing.T) {
	cfg := testConfig(1, 3)
	rpc := &recordingRPC{}
	cfg.RPC = rpc
	cfg.Store = failingStore{}
	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	n.Start()

	if _, err := n.Tick(testTimeoutMax); err == nil {
		t.Fatal("expected election to fail when the vote cannot be saved")
	}
	if n.Role() != RoleFollower || n.Term() != 0 || len(rpc.sent) != 0 {
		t.Error("failed save should leave the node unchanged")
	}

	err = n.ReceiveRequestVote(&RequestVoteArgs{Term: 1, CandidateID: 2})
	if err == nil {
		t.Fatal("expected vote to fail when the term cannot be saved")
	}
	if n.Term() != 0 || len(rpc.sent) != 0 {
		t.Error("failed save should not answer the vote")
	}
}

func TestNewNodeRejectsCorruptStoredVote(t *testing.T) {
	store := NewMemoryStore()
	store.Save(HardState{CurrentTerm: 3, VotedFor: 9})

	cfg := testConfig(1, 3)
	cfg.RPC = &recordingRPC{}
	cfg.Store = store
	if _, err := NewNode(cfg); !errors.Is(err, ErrCorruptHardState) {
		t.Errorf("expected ErrCorruptHardState, got %v", err)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleFollower, "follower"},
		{RoleCandidate, "candidate"},
		{RoleLeader, "leader"},
		{Role(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("Role(%d).String() = %q, want %q", tt.role, got, tt.want)
		}
	}
}
