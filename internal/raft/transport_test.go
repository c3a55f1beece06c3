package raft

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

func encodeRequestVote(t *testing.T, to NodeID, args *RequestVoteArgs) []byte {
	t.Helper()
	env, err := WriteRequestVoteEnvelope(to, args)
	if err != nil {
		t.Fatalf("WriteRequestVoteEnvelope failed: %v", err)
	}
	return env.Bytes()
}

func TestTCPTransportSendReceive(t *testing.T) {
	received := make(chan []byte, 4)

	server := NewTCPTransport("127.0.0.1:0", nil)
	if err := server.Listen(func(msg []byte) { received <- msg }); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	client := NewTCPTransport("127.0.0.1:0", map[NodeID]string{1: server.LocalAddr()})
	client.SetTimeout(2 * time.Second)
	defer client.Close()

	want := []*RequestVoteArgs{
		{Term: 1, CandidateID: 2, LastLogIndex: 3, LastLogTerm: 1},
		{Term: 2, CandidateID: 2, LastLogIndex: 4, LastLogTerm: 2},
	}
	for _, args := range want {
		if err := client.Send(1, encodeRequestVote(t, 1, args)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	for i, args := range want {
		select {
		case msg := <-received:
			got, err := ReadRequestVoteArgs(msg)
			if err != nil {
				t.Fatalf("message %d: decode failed: %v", i, err)
			}
			if *got != *args {
				t.Errorf("message %d mismatch: got %+v, want %+v", i, got, args)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestTCPTransportUnknownPeer(t *testing.T) {
	tr := NewTCPTransport("127.0.0.1:0", nil)
	defer tr.Close()

	err := tr.Send(9, encodeRequestVote(t, 9, &RequestVoteArgs{Term: 1, CandidateID: 1}))
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("expected ErrConnectFailed, got %v", err)
	}

	received := make(chan []byte, 1)
	server := NewTCPTransport("127.0.0.1:0", nil)
	if err := server.Listen(func(msg []byte) { received <- msg }); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	tr.AddPeer(9, server.LocalAddr())
	if err := tr.Send(9, encodeRequestVote(t, 9, &RequestVoteArgs{Term: 1, CandidateID: 1})); err != nil {
		t.Fatalf("Send after AddPeer failed: %v", err)
	}
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message after AddPeer")
	}
}

func TestTCPTransportClosed(t *testing.T) {
	tr := NewTCPTransport("127.0.0.1:0", map[NodeID]string{2: "127.0.0.1:1"})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	err := tr.Send(2, encodeRequestVote(t, 2, &RequestVoteArgs{Term: 1, CandidateID: 1}))
	if !errors.Is(err, ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if err := tr.Listen(func([]byte) {}); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Listen after Close: expected ErrTransportClosed, got %v", err)
	}
}

func TestTCPTransportLocalAddr(t *testing.T) {
	tr := NewTCPTransport("127.0.0.1:0", nil)
	defer tr.Close()

	if tr.LocalAddr() != "127.0.0.1:0" {
		t.Errorf("LocalAddr before Listen: got %s", tr.LocalAddr())
	}
	if err := tr.Listen(func([]byte) {}); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if tr.LocalAddr() == "127.0.0.1:0" {
		t.Error("LocalAddr should report the bound port after Listen")
	}
}

func TestReadFrame(t *testing.T) {
	first := encodeRequestVote(t, 1, &RequestVoteArgs{Term: 1, CandidateID: 2})
	env, err := WriteAppendEntriesEnvelope(1, &AppendEntriesArgs{
		Term: 1, LeaderID: 2, Entries: []LogEntry{{Term: 1, Payload: []byte("payload")}},
	})
	if err != nil {
		t.Fatalf("WriteAppendEntriesEnvelope failed: %v", err)
	}
	second := env.Bytes()

	stream := bytes.NewReader(append(append([]byte(nil), first...), second...))

	for i, want := range [][]byte{first, second} {
		got, err := ReadFrame(stream)
		if err != nil {
			t.Fatalf("frame %d: ReadFrame failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d mismatch", i)
		}
	}
	if _, err := ReadFrame(stream); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadFrameInvalid(t *testing.T) {
	valid := encodeRequestVote(t, 1, &RequestVoteArgs{Term: 1, CandidateID: 2})

	header := func(magic byte, typ byte, size uint32) []byte {
		h := []byte{0, 0, magic, typ, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(h[4:], size)
		return h
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"bad magic", header(0x02, byte(MsgRequestVote), requestVoteSize), ErrInvalidMessage},
		{"unknown type", header(0x01, 9, requestVoteSize), ErrInvalidMessage},
		{"size below header", header(0x01, byte(MsgRequestVote), 4), ErrInvalidMessage},
		{"oversize", header(0x01, byte(MsgAppendEntries), maxMessageSize+1), ErrInvalidMessage},
		{"truncated body", valid[:len(valid)-2], io.ErrUnexpectedEOF},
		{"truncated header", valid[:5], io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInMemoryNetwork(t *testing.T) {
	network := NewInMemoryNetwork()

	var got [][]byte
	network.Listen(2, func(msg []byte) { got = append(got, msg) })
	tr := network.NewTransport(1)

	msg := []byte{1, 2, 3}
	if err := tr.Send(2, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msg[0] = 9
	if len(got) != 1 || got[0][0] != 1 {
		t.Fatalf("delivered message should be a copy: %v", got)
	}

	if err := tr.Send(3, msg); !errors.Is(err, ErrConnectFailed) {
		t.Errorf("send to unregistered node: expected ErrConnectFailed, got %v", err)
	}

	tests := []struct {
		name string
		down NodeID
	}{
		{"recipient down", 2},
		{"sender down", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network.Disconnect(tt.down)
			if err := tr.Send(2, msg); !errors.Is(err, ErrConnectFailed) {
				t.Errorf("expected ErrConnectFailed, got %v", err)
			}
			network.Reconnect(tt.down)
			if err := tr.Send(2, msg); err != nil {
				t.Errorf("Send after Reconnect failed: %v", err)
			}
		})
	}
}

func TestWireRPCOverInMemoryNetwork(t *testing.T) {
	network := NewInMemoryNetwork()

	var got *AppendEntriesResponseArgs
	network.Listen(1, func(msg []byte) {
		args, err := ReadAppendEntriesResponseArgs(msg)
		if err != nil {
			t.Errorf("decode failed: %v", err)
			return
		}
		got = args
	})

	rpc := NewWireRPC(network.NewTransport(2))
	want := &AppendEntriesResponseArgs{FollowerID: 2, Term: 4, Success: true, AcknowledgedLogIndex: 7, AcknowledgedLogTerm: 3}
	if err := rpc.AppendEntriesResponse(1, want); err != nil {
		t.Fatalf("AppendEntriesResponse failed: %v", err)
	}
	if got == nil || *got != *want {
		t.Errorf("delivered message mismatch: got %+v, want %+v", got, want)
	}
}
