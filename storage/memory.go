package storage

import (
	"fmt"
	"sync"

	"github.com/umbra-im/umbrafile/manifest"
)

// MemoryStore keeps chunks in process memory. Intended for tests and for
// staging outgoing transfers whose source data is already in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	chunks   map[manifest.ChunkID][]byte
	used     uint64
	capacity uint64 // 0 means unbounded
}

// NewMemoryStore creates an unbounded in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[manifest.ChunkID][]byte)}
}

// NewBoundedMemoryStore creates a store that rejects writes once the total
// stored bytes would exceed capacity.
func NewBoundedMemoryStore(capacity uint64) *MemoryStore {
	return &MemoryStore{
		chunks:   make(map[manifest.ChunkID][]byte),
		capacity: capacity,
	}
}

// Put implements ChunkStore.
func (s *MemoryStore) Put(id manifest.ChunkID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chunks[id]; exists {
		return nil
	}
	if s.capacity > 0 && s.used+uint64(len(data)) > s.capacity {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStoreFull, s.used, s.capacity)
	}

	s.chunks[id] = append([]byte(nil), data...)
	s.used += uint64(len(data))
	return nil
}

// Get implements ChunkStore.
func (s *MemoryStore) Get(id manifest.ChunkID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

// Has implements ChunkStore.
func (s *MemoryStore) Has(id manifest.ChunkID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.chunks[id]
	return ok
}

// Len returns the number of stored chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
