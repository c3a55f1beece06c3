package raft

import "math"

// EntryKind distinguishes client entries from entries the protocol writes itself.
type EntryKind uint8

// Log entry kinds.
const (
	EntryUser   EntryKind = iota // Client command
	EntrySystem                  // Protocol entry (the sentinel at index 0)
)

// String returns the string representation of an entry kind.
func (k EntryKind) String() string {
	switch k {
	case EntryUser:
		return "user"
	case EntrySystem:
		return "system"
	default:
		return "unknown"
	}
}

// maxPayloadSize is the largest payload the 31-bit wire size field can carry.
const maxPayloadSize = 1<<31 - 1

// logChunkSize is the number of entries held by one chunk.
const logChunkSize = 64

// LogEntry represents a single entry in the Raft log.
type LogEntry struct {
	UniqueID         uint32    // Client-assigned identifier
	Term             Term      // Term when entry was created
	Kind             EntryKind // EntryUser or EntrySystem
	Payload          []byte    // Opaque command data, owned by the log once appended
	ReplicationCount uint32    // Followers known to hold this entry in the leader's term
}

type logChunk [logChunkSize]LogEntry

// Log is an append-only, 0-indexed sequence of entries stored in fixed-size
// chunks. Entries never move once written, so pointers returned by Entry stay
// valid until the entry is truncated.
//
// Index 0 always holds a System sentinel at term 0.
type Log struct {
	chunks []*logChunk
	length uint32
}

// NewLog creates a log holding only the sentinel entry.
func NewLog() *Log {
	l := &Log{chunks: []*logChunk{new(logChunk)}}
	l.chunks[0][0] = LogEntry{Term: 0, Kind: EntrySystem}
	l.length = 1
	return l
}

// Len returns the number of entries, including the sentinel.
func (l *Log) Len() uint32 {
	return l.length
}

// LastIndex returns the index of the last entry.
func (l *Log) LastIndex() Index {
	return Index(l.length - 1)
}

// LastTerm returns the term of the last entry.
func (l *Log) LastTerm() Term {
	return l.at(l.length - 1).Term
}

// Entry returns the entry at index. Negative indices count from the end,
// so -1 is the last entry.
func (l *Log) Entry(index int32) (*LogEntry, error) {
	i := int64(index)
	if i < 0 {
		i += int64(l.length)
	}
	if i < 0 || i >= int64(l.length) {
		return nil, ErrIndexOutOfRange
	}
	return l.at(uint32(i)), nil
}

// TermAt returns the term of the entry at index and whether it exists.
func (l *Log) TermAt(index Index) (Term, bool) {
	if uint32(index) >= l.length {
		return 0, false
	}
	return l.at(uint32(index)).Term, true
}

func (l *Log) at(i uint32) *LogEntry {
	return &l.chunks[i/logChunkSize][i%logChunkSize]
}

// reserve makes room for n more entries without writing any of them.
func (l *Log) reserve(n int) error {
	if uint64(l.length)+uint64(n) > math.MaxUint32 {
		return ErrOutOfMemory
	}
	need := (int(l.length) + n + logChunkSize - 1) / logChunkSize
	for len(l.chunks) < need {
		l.chunks = append(l.chunks, new(logChunk))
	}
	return nil
}

// AppendUser appends one User entry.
func (l *Log) AppendUser(uniqueID uint32, term Term, payload []byte) error {
	if len(payload) > maxPayloadSize {
		return ErrOutOfMemory
	}
	if err := l.reserve(1); err != nil {
		return err
	}
	*l.at(l.length) = LogEntry{
		UniqueID: uniqueID,
		Term:     term,
		Kind:     EntryUser,
		Payload:  payload,
	}
	l.length++
	return nil
}

// Append appends entries received from a leader. Either every entry is
// appended or none is. The caller is responsible for checking the splice point.
func (l *Log) Append(entries []LogEntry) error {
	for i := range entries {
		if len(entries[i].Payload) > maxPayloadSize {
			return ErrOutOfMemory
		}
	}
	if err := l.reserve(len(entries)); err != nil {
		return err
	}
	for i := range entries {
		e := entries[i]
		e.ReplicationCount = 0
		*l.at(l.length) = e
		l.length++
	}
	return nil
}

// TruncateFrom removes the entry at index and everything after it.
// The sentinel can never be removed.
func (l *Log) TruncateFrom(index Index) error {
	if index == 0 {
		return ErrInvalidArgs
	}
	if uint32(index) >= l.length {
		return nil
	}
	for i := uint32(index); i < l.length; i++ {
		*l.at(i) = LogEntry{}
	}
	l.length = uint32(index)
	l.chunks = l.chunks[:(l.length+logChunkSize-1)/logChunkSize]
	return nil
}

// Slice returns copies of up to limit entries starting at from. A limit of 0
// means no limit.
func (l *Log) Slice(from Index, limit int) []LogEntry {
	if uint32(from) >= l.length {
		return nil
	}
	n := int(l.length - uint32(from))
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]LogEntry, n)
	for i := 0; i < n; i++ {
		out[i] = *l.at(uint32(from) + uint32(i))
	}
	return out
}
