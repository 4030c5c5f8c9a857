package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/umbra-im/umbrafile/manifest"
)

// DirStore persists chunks as files under a root directory, fanned out by
// the first two hex digits of the chunk id: <root>/ab/abcdef....
//
// Writes go through a temp file and rename, so a chunk file is either absent
// or complete.
type DirStore struct {
	root string
}

// NewDirStore creates the root directory if needed and returns a store
// backed by it.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewDirStore",
		"root":     root,
	}).Debug("Directory chunk store opened")

	return &DirStore{root: root}, nil
}

func (s *DirStore) path(id manifest.ChunkID) string {
	name := id.String()
	return filepath.Join(s.root, name[:2], name)
}

// Put implements ChunkStore.
func (s *DirStore) Put(id manifest.ChunkID, data []byte) error {
	dest := s.path(id)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return classifyWriteError(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".chunk-*")
	if err != nil {
		return classifyWriteError(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return classifyWriteError(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return classifyWriteError(err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return classifyWriteError(err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Put",
		"chunk_id": id.String()[:8],
		"size":     len(data),
	}).Debug("Chunk persisted")

	return nil
}

// Get implements ChunkStore.
func (s *DirStore) Get(id manifest.ChunkID) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", id, err)
	}
	return data, nil
}

// Has implements ChunkStore.
func (s *DirStore) Has(id manifest.ChunkID) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// classifyWriteError maps out-of-space conditions to ErrStoreFull so the
// session can report StorageFull to its peer.
func classifyWriteError(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", ErrStoreFull, err)
	}
	return fmt.Errorf("chunk write: %w", err)
}
