package manifest

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ChunkBytes splits data into fixed-size content-addressed chunks and builds
// the manifest describing them. The returned payload slices alias data and
// are ordered by index. Zero-length input is rejected: there is nothing to
// transfer and the protocol has no representation for it.
func ChunkBytes(fileID, filename string, data []byte, chunkSize int) (*Manifest, [][]byte, error) {
	if chunkSize <= 0 || chunkSize > ChunkMax {
		return nil, nil, fmt.Errorf("%w: chunk size %d", ErrChunkOversize, chunkSize)
	}
	if len(data) == 0 {
		return nil, nil, ErrEmptyManifest
	}

	numChunks := (len(data) + chunkSize - 1) / chunkSize
	refs := make([]ChunkRef, 0, numChunks)
	payloads := make([][]byte, 0, numChunks)

	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		refs = append(refs, ChunkRef{
			ID:    NewChunkID(chunk),
			Index: uint32(len(refs)),
			Size:  uint32(len(chunk)),
		})
		payloads = append(payloads, chunk)
	}

	m, err := Build(fileID, refs, Metadata{Filename: filename})
	if err != nil {
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ChunkBytes",
		"file_id":    fileID,
		"chunks":     numChunks,
		"chunk_size": chunkSize,
	}).Debug("File split into chunks")

	return m, payloads, nil
}

// Reassemble verifies each chunk payload against the manifest and joins them
// in order. Payloads must be indexed the same way as m.Chunks.
func Reassemble(m *Manifest, chunks [][]byte) ([]byte, error) {
	if len(chunks) != len(m.Chunks) {
		return nil, fmt.Errorf("%w: expected %d chunks, got %d",
			ErrManifestMalformed, len(m.Chunks), len(chunks))
	}

	out := make([]byte, 0, m.TotalSize)
	for i, data := range chunks {
		if !VerifyChunk(m.Chunks[i], data) {
			return nil, fmt.Errorf("%w: chunk %d failed verification", ErrManifestMalformed, i)
		}
		out = append(out, data...)
	}
	return out, nil
}
