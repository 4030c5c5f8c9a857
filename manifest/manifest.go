package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// HashSize is the size of chunk ids and the file hash in bytes.
const HashSize = sha256.Size

// ChunkMax is the maximum allowed chunk size in bytes.
const ChunkMax = 256 * 1024

// DefaultChunkSize is the chunk size used when splitting files.
const DefaultChunkSize = ChunkMax

// MaxFileIDLength is the maximum length of a file identifier in bytes.
const MaxFileIDLength = 255

// MaxNameLength is the maximum length of the advisory filename and MIME
// type fields in bytes.
const MaxNameLength = 255

// ErrManifestMalformed indicates a structurally invalid manifest.
var ErrManifestMalformed = errors.New("manifest malformed")

// ErrChunkOversize indicates a chunk exceeding ChunkMax.
var ErrChunkOversize = errors.New("chunk size exceeds maximum allowed")

// ErrEmptyManifest indicates a manifest with no chunks.
var ErrEmptyManifest = errors.New("manifest has no chunks")

// ChunkID is the content address of a chunk: the SHA-256 hash of its bytes.
type ChunkID [HashSize]byte

// NewChunkID computes the content address of a chunk payload.
func NewChunkID(data []byte) ChunkID {
	return ChunkID(sha256.Sum256(data))
}

// String returns the hex encoding of the chunk id.
func (id ChunkID) String() string {
	return hex.EncodeToString(id[:])
}

// ChunkRef describes one chunk within a manifest: metadata only, no data.
type ChunkRef struct {
	// ID is the SHA-256 hash of the chunk bytes.
	ID ChunkID
	// Index is the zero-based position within the file.
	Index uint32
	// Size is the chunk length in bytes (1..=ChunkMax).
	Size uint32
}

// Metadata carries advisory file information. It is never load-bearing for
// transfer correctness.
type Metadata struct {
	Filename string
	Mime     string
}

// Manifest is an immutable description of a file as an ordered chunk list.
type Manifest struct {
	// FileID is an opaque identifier chosen by the sender, unique per sender.
	FileID string
	// Filename and Mime are advisory metadata.
	Filename string
	Mime     string
	// TotalSize is the sum of all chunk sizes.
	TotalSize uint64
	// FileHash is the SHA-256 of the ordered chunk id concatenation.
	FileHash [HashSize]byte
	// Chunks is ordered by Index, which runs contiguously 0..N-1.
	Chunks []ChunkRef
}

// Build validates the chunk list and assembles a manifest. Indices must be a
// contiguous 0..N-1 run in order, every size must lie in 1..=ChunkMax, and
// the list must be non-empty.
func Build(fileID string, chunks []ChunkRef, meta Metadata) (*Manifest, error) {
	if fileID == "" || len(fileID) > MaxFileIDLength {
		return nil, fmt.Errorf("%w: file id length %d", ErrManifestMalformed, len(fileID))
	}
	if len(meta.Filename) > MaxNameLength || len(meta.Mime) > MaxNameLength {
		return nil, fmt.Errorf("%w: metadata field too long", ErrManifestMalformed)
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyManifest
	}

	var totalSize uint64
	for i, c := range chunks {
		if c.Index != uint32(i) {
			return nil, fmt.Errorf("%w: index %d at position %d", ErrManifestMalformed, c.Index, i)
		}
		if c.Size == 0 {
			return nil, fmt.Errorf("%w: zero-size chunk at index %d", ErrManifestMalformed, i)
		}
		if c.Size > ChunkMax {
			return nil, fmt.Errorf("%w: chunk %d is %d bytes", ErrChunkOversize, i, c.Size)
		}
		totalSize += uint64(c.Size)
	}

	m := &Manifest{
		FileID:    fileID,
		Filename:  meta.Filename,
		Mime:      meta.Mime,
		TotalSize: totalSize,
		FileHash:  hashChunkIDs(chunks),
		Chunks:    append([]ChunkRef(nil), chunks...),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Build",
		"file_id":    fileID,
		"chunks":     len(chunks),
		"total_size": totalSize,
	}).Debug("Manifest built")

	return m, nil
}

// hashChunkIDs computes SHA-256 over the byte-for-byte concatenation
// id[0] || id[1] || ... || id[N-1].
func hashChunkIDs(chunks []ChunkRef) [HashSize]byte {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c.ID[:])
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NumChunks returns the number of chunks in the manifest.
func (m *Manifest) NumChunks() int {
	return len(m.Chunks)
}

// Chunk returns the descriptor at the given index.
func (m *Manifest) Chunk(index uint32) (ChunkRef, bool) {
	if int(index) >= len(m.Chunks) {
		return ChunkRef{}, false
	}
	return m.Chunks[index], true
}

// VerifyChunk reports whether data matches a descriptor: same length and a
// SHA-256 equal to the chunk id.
func VerifyChunk(ref ChunkRef, data []byte) bool {
	if uint32(len(data)) != ref.Size {
		return false
	}
	sum := sha256.Sum256(data)
	return bytes.Equal(sum[:], ref.ID[:])
}

// VerifyFile recomputes the file hash from an ordered chunk id list and
// compares it against the manifest's.
func (m *Manifest) VerifyFile(ids []ChunkID) bool {
	if len(ids) != len(m.Chunks) {
		return false
	}
	h := sha256.New()
	for _, id := range ids {
		h.Write(id[:])
	}
	return bytes.Equal(h.Sum(nil), m.FileHash[:])
}

// ChunkIDs returns the manifest's chunk ids in index order.
func (m *Manifest) ChunkIDs() []ChunkID {
	ids := make([]ChunkID, len(m.Chunks))
	for i, c := range m.Chunks {
		ids[i] = c.ID
	}
	return ids
}
