package raft

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// HardStateStore persists a node's term and vote. Save must be durable before
// it returns.
type HardStateStore interface {
	Load() (HardState, error)
	Save(hs HardState) error
}

// MemoryStore keeps hard state in memory. It survives a Node being rebuilt
// within one process, which is enough for tests.
type MemoryStore struct {
	hs    HardState
	saves int
	mu    sync.Mutex
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved state.
func (m *MemoryStore) Load() (HardState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hs, nil
}

// Save records hs.
func (m *MemoryStore) Save(hs HardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hs = hs
	m.saves++
	return nil
}

// Saves returns how many times Save has been called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// hardStateFile is the file FileStore writes within its directory.
const hardStateFile = "hardstate.dat"

// hardStateSize is the encoded size: term then votedFor, big-endian.
const hardStateSize = 8

// FileStore persists hard state to a single file, replaced atomically on
// every save.
type FileStore struct {
	dir     string
	syncDir func(dir string) error
}

// NewFileStore creates a store in dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir, syncDir: syncDir}, nil
}

// Path returns the hard state file path.
func (f *FileStore) Path() string {
	return filepath.Join(f.dir, hardStateFile)
}

// Load reads the hard state. A missing file is a fresh node.
func (f *FileStore) Load() (HardState, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return HardState{}, nil
		}
		return HardState{}, err
	}
	if len(data) != hardStateSize {
		return HardState{}, fmt.Errorf("%w: %s is %d bytes", ErrCorruptHardState, f.Path(), len(data))
	}
	return HardState{
		CurrentTerm: Term(binary.BigEndian.Uint32(data[0:4])),
		VotedFor:    NodeID(binary.BigEndian.Uint32(data[4:8])),
	}, nil
}

// Save writes hs to a temporary file, syncs it, renames it over the
// previous state and syncs the directory so the rename survives a crash.
func (f *FileStore) Save(hs HardState) error {
	data := make([]byte, hardStateSize)
	binary.BigEndian.PutUint32(data[0:4], uint32(hs.CurrentTerm))
	binary.BigEndian.PutUint32(data[4:8], uint32(hs.VotedFor))

	path := f.Path()
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	if err := f.syncDir(f.dir); err != nil {
		return fmt.Errorf("sync data dir: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}
