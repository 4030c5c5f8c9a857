// Package storage provides content-addressed chunk stores for file transfer.
//
// A ChunkStore maps chunk ids to chunk bytes. Stores must tolerate
// concurrent reads of distinct keys and concurrent writes of distinct keys;
// same-key write/read serialization is the store's own concern.
package storage

import (
	"errors"

	"github.com/umbra-im/umbrafile/manifest"
)

// ErrNotFound indicates a chunk absent from the store.
var ErrNotFound = errors.New("chunk not found")

// ErrStoreFull indicates the store cannot accept more data.
var ErrStoreFull = errors.New("chunk store full")

// ChunkStore is content-addressed read/write of chunk bytes.
type ChunkStore interface {
	// Put persists a chunk under its id. Writing the same id twice is
	// allowed and idempotent.
	Put(id manifest.ChunkID, data []byte) error

	// Get returns the chunk bytes for id, or ErrNotFound.
	Get(id manifest.ChunkID) ([]byte, error)

	// Has reports whether the chunk is resident.
	Has(id manifest.ChunkID) bool
}
