package raft

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire format. All multibyte values are big-endian.
//
//	Bytes | Meaning
//	------+--------------------------------------------
//	  0-2 | Magic/version 0x000001
//	    3 | Message type
//	  4-7 | Message size, counted from byte 0
//	   8- | Fixed 4-byte fields (booleans are 0 or 1)
//	    * | AppendEntries only: one 12-byte metadata
//	      | record per entry, then every payload in order
//
// An entry metadata record is {kind<<31 | payload size, unique ID, term}
// where the kind bit is set for System entries.

// MessageType identifies the RPC carried by a message.
type MessageType uint8

// Message types.
const (
	MsgAppendEntries MessageType = iota + 1
	MsgAppendEntriesResponse
	MsgRequestVote
	MsgRequestVoteResponse
)

// String returns the string representation of a message type.
func (t MessageType) String() string {
	switch t {
	case MsgAppendEntries:
		return "AppendEntries"
	case MsgAppendEntriesResponse:
		return "AppendEntriesResponse"
	case MsgRequestVote:
		return "RequestVote"
	case MsgRequestVoteResponse:
		return "RequestVoteResponse"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// WireVersion is the magic carried in the first three bytes of every
// message. Peers reject messages with any other value.
const WireVersion = 0x000001

const (
	headerSize                = 8
	requestVoteSize           = headerSize + 4*4
	requestVoteResponseSize   = headerSize + 3*4
	appendEntriesFixedSize    = headerSize + 6*4
	appendEntriesResponseSize = headerSize + 5*4
	entryMetaSize             = 12

	entrySystemBit = 1 << 31
	envelopeAlign  = 256
)

// Envelope is an encoded message addressed to a single recipient. The buffer
// belongs to the caller until Release is called.
type Envelope struct {
	Recipient NodeID
	buf       []byte
}

// Bytes returns the encoded message.
func (e *Envelope) Bytes() []byte {
	return e.buf
}

// Size returns the encoded message size in bytes.
func (e *Envelope) Size() uint32 {
	return uint32(len(e.buf))
}

// Capacity returns the size of the underlying buffer.
func (e *Envelope) Capacity() int {
	return cap(e.buf)
}

// Release drops the buffer. It is safe to call more than once.
func (e *Envelope) Release() {
	e.buf = nil
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// newEnvelope allocates a buffer for a message of the given total size and
// writes the header.
func newEnvelope(recipient NodeID, msgType MessageType, size uint64) (*Envelope, error) {
	if size > math.MaxUint32 {
		return nil, ErrOutOfMemory
	}
	e := &Envelope{
		Recipient: recipient,
		buf:       make([]byte, 0, alignUp(size, envelopeAlign)),
	}
	e.buf = append(e.buf,
		byte(WireVersion>>16), byte(WireVersion>>8), byte(WireVersion),
		byte(msgType))
	e.putUint32(uint32(size))
	return e, nil
}

// grow makes room for n more bytes, rounding the capacity up to the next
// 256-byte boundary.
func (e *Envelope) grow(n int) {
	if len(e.buf)+n <= cap(e.buf) {
		return
	}
	buf := make([]byte, len(e.buf), alignUp(uint64(len(e.buf)+n), envelopeAlign))
	copy(buf, e.buf)
	e.buf = buf
}

func (e *Envelope) putUint32(v uint32) {
	e.grow(4)
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Envelope) putBool(v bool) {
	if v {
		e.putUint32(1)
	} else {
		e.putUint32(0)
	}
}

func (e *Envelope) putBytes(p []byte) {
	e.grow(len(p))
	e.buf = append(e.buf, p...)
}

// WriteRequestVoteEnvelope encodes a RequestVote message.
func WriteRequestVoteEnvelope(recipient NodeID, args *RequestVoteArgs) (*Envelope, error) {
	e, err := newEnvelope(recipient, MsgRequestVote, requestVoteSize)
	if err != nil {
		return nil, err
	}
	e.putUint32(uint32(args.Term))
	e.putUint32(uint32(args.CandidateID))
	e.putUint32(uint32(args.LastLogIndex))
	e.putUint32(uint32(args.LastLogTerm))
	return e, nil
}

// WriteRequestVoteResponseEnvelope encodes a RequestVoteResponse message.
func WriteRequestVoteResponseEnvelope(recipient NodeID, args *RequestVoteResponseArgs) (*Envelope, error) {
	e, err := newEnvelope(recipient, MsgRequestVoteResponse, requestVoteResponseSize)
	if err != nil {
		return nil, err
	}
	e.putUint32(uint32(args.FollowerID))
	e.putUint32(uint32(args.Term))
	e.putBool(args.VoteGranted)
	return e, nil
}

// WriteAppendEntriesEnvelope encodes an AppendEntries message, writing all
// entry metadata before any payload.
func WriteAppendEntriesEnvelope(recipient NodeID, args *AppendEntriesArgs) (*Envelope, error) {
	if uint64(len(args.Entries)) > math.MaxUint32 {
		return nil, ErrOutOfMemory
	}
	size := uint64(appendEntriesFixedSize) + uint64(entryMetaSize)*uint64(len(args.Entries))
	for i := range args.Entries {
		n := len(args.Entries[i].Payload)
		if n > maxPayloadSize {
			return nil, ErrOutOfMemory
		}
		size += uint64(n)
	}

	e, err := newEnvelope(recipient, MsgAppendEntries, size)
	if err != nil {
		return nil, err
	}
	e.putUint32(uint32(args.Term))
	e.putUint32(uint32(args.LeaderID))
	e.putUint32(uint32(args.PrevLogIndex))
	e.putUint32(uint32(args.PrevLogTerm))
	e.putUint32(uint32(len(args.Entries)))
	e.putUint32(uint32(args.LeaderCommit))

	for i := range args.Entries {
		entry := &args.Entries[i]
		meta := uint32(len(entry.Payload))
		if entry.Kind == EntrySystem {
			meta |= entrySystemBit
		}
		e.putUint32(meta)
		e.putUint32(entry.UniqueID)
		e.putUint32(uint32(entry.Term))
	}
	for i := range args.Entries {
		e.putBytes(args.Entries[i].Payload)
	}
	return e, nil
}

// WriteAppendEntriesResponseEnvelope encodes an AppendEntriesResponse message.
func WriteAppendEntriesResponseEnvelope(recipient NodeID, args *AppendEntriesResponseArgs) (*Envelope, error) {
	e, err := newEnvelope(recipient, MsgAppendEntriesResponse, appendEntriesResponseSize)
	if err != nil {
		return nil, err
	}
	e.putUint32(uint32(args.FollowerID))
	e.putUint32(uint32(args.Term))
	e.putBool(args.Success)
	e.putUint32(uint32(args.AcknowledgedLogIndex))
	e.putUint32(uint32(args.AcknowledgedLogTerm))
	return e, nil
}

// wireReader reads fixed fields from a message bounded by its declared size.
type wireReader struct {
	buf []byte
	off int
}

func (r *wireReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *wireReader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrInvalidMessage
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *wireReader) bool() (bool, error) {
	v, err := r.uint32()
	return v != 0, err
}

func (r *wireReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrInvalidMessage
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p, nil
}

// ReadMessageType validates the header and returns the message type.
func ReadMessageType(data []byte) (MessageType, error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: short header (%d bytes)", ErrInvalidMessage, len(data))
	}
	if data[0] != byte(WireVersion>>16) || data[1] != byte(WireVersion>>8) || data[2] != byte(WireVersion) {
		return 0, fmt.Errorf("%w: bad magic %x", ErrInvalidMessage, data[0:3])
	}
	t := MessageType(data[3] & 0xff)
	if t < MsgAppendEntries || t > MsgRequestVoteResponse {
		return 0, fmt.Errorf("%w: unknown type %d", ErrInvalidMessage, data[3])
	}
	return t, nil
}

// MessageSize returns the total size declared in a message header.
func MessageSize(header []byte) (uint32, error) {
	if len(header) < headerSize {
		return 0, ErrInvalidMessage
	}
	return binary.BigEndian.Uint32(header[4:8]), nil
}

// openMessage checks the header against the expected type and returns a
// reader limited to the declared message size.
func openMessage(data []byte, want MessageType, minSize int) (*wireReader, error) {
	t, err := ReadMessageType(data)
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrInvalidMessage, t, want)
	}
	size, _ := MessageSize(data)
	if uint64(size) < uint64(minSize) || uint64(size) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %s size %d (buffer %d)", ErrInvalidMessage, want, size, len(data))
	}
	return &wireReader{buf: data[:size], off: headerSize}, nil
}

// ReadRequestVoteArgs decodes a RequestVote message.
func ReadRequestVoteArgs(data []byte) (*RequestVoteArgs, error) {
	r, err := openMessage(data, MsgRequestVote, requestVoteSize)
	if err != nil {
		return nil, err
	}
	var f [4]uint32
	for i := range f {
		if f[i], err = r.uint32(); err != nil {
			return nil, err
		}
	}
	return &RequestVoteArgs{
		Term:         Term(f[0]),
		CandidateID:  NodeID(f[1]),
		LastLogIndex: Index(f[2]),
		LastLogTerm:  Term(f[3]),
	}, nil
}

// ReadRequestVoteResponseArgs decodes a RequestVoteResponse message.
func ReadRequestVoteResponseArgs(data []byte) (*RequestVoteResponseArgs, error) {
	r, err := openMessage(data, MsgRequestVoteResponse, requestVoteResponseSize)
	if err != nil {
		return nil, err
	}
	args := &RequestVoteResponseArgs{}
	follower, err := r.uint32()
	if err != nil {
		return nil, err
	}
	term, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if args.VoteGranted, err = r.bool(); err != nil {
		return nil, err
	}
	args.FollowerID = NodeID(follower)
	args.Term = Term(term)
	return args, nil
}

// ReadAppendEntriesArgs decodes an AppendEntries message. Entry payloads are
// copied out of data.
func ReadAppendEntriesArgs(data []byte) (*AppendEntriesArgs, error) {
	r, err := openMessage(data, MsgAppendEntries, appendEntriesFixedSize)
	if err != nil {
		return nil, err
	}
	var f [6]uint32
	for i := range f {
		if f[i], err = r.uint32(); err != nil {
			return nil, err
		}
	}
	args := &AppendEntriesArgs{
		Term:         Term(f[0]),
		LeaderID:     NodeID(f[1]),
		PrevLogIndex: Index(f[2]),
		PrevLogTerm:  Term(f[3]),
		LeaderCommit: Index(f[5]),
	}

	count := uint64(f[4])
	if count*entryMetaSize > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %d entries do not fit", ErrInvalidMessage, count)
	}
	if count == 0 {
		if r.remaining() != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidMessage, r.remaining())
		}
		return args, nil
	}

	// Metadata first, so every payload size is known before any payload is read.
	args.Entries = make([]LogEntry, count)
	sizes := make([]int, count)
	var total uint64
	for i := range args.Entries {
		meta, _ := r.uint32()
		uniqueID, _ := r.uint32()
		term, _ := r.uint32()
		kind := EntryUser
		if meta&entrySystemBit != 0 {
			kind = EntrySystem
		}
		sizes[i] = int(meta &^ entrySystemBit)
		total += uint64(sizes[i])
		args.Entries[i] = LogEntry{UniqueID: uniqueID, Term: Term(term), Kind: kind}
	}
	if total != uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: payloads total %d, have %d bytes", ErrInvalidMessage, total, r.remaining())
	}

	for i := range args.Entries {
		if sizes[i] == 0 {
			continue
		}
		p, err := r.bytes(sizes[i])
		if err != nil {
			return nil, err
		}
		args.Entries[i].Payload = append([]byte(nil), p...)
	}
	return args, nil
}

// ReadAppendEntriesResponseArgs decodes an AppendEntriesResponse message.
func ReadAppendEntriesResponseArgs(data []byte) (*AppendEntriesResponseArgs, error) {
	r, err := openMessage(data, MsgAppendEntriesResponse, appendEntriesResponseSize)
	if err != nil {
		return nil, err
	}
	follower, err := r.uint32()
	if err != nil {
		return nil, err
	}
	term, err := r.uint32()
	if err != nil {
		return nil, err
	}
	success, err := r.bool()
	if err != nil {
		return nil, err
	}
	ackIndex, err := r.uint32()
	if err != nil {
		return nil, err
	}
	ackTerm, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return &AppendEntriesResponseArgs{
		FollowerID:           NodeID(follower),
		Term:                 Term(term),
		Success:              success,
		AcknowledgedLogIndex: Index(ackIndex),
		AcknowledgedLogTerm:  Term(ackTerm),
	}, nil
}
