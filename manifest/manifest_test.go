package manifest

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRefs(sizes ...uint32) []ChunkRef {
	refs := make([]ChunkRef, len(sizes))
	for i, size := range sizes {
		data := bytes.Repeat([]byte{byte(i + 1)}, int(size))
		refs[i] = ChunkRef{ID: NewChunkID(data), Index: uint32(i), Size: size}
	}
	return refs
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name    string
		fileID  string
		chunks  []ChunkRef
		wantErr error
	}{
		{
			name:   "valid_single_chunk",
			fileID: "file-1",
			chunks: makeRefs(1024),
		},
		{
			name:   "valid_multi_chunk",
			fileID: "file-2",
			chunks: makeRefs(ChunkMax, ChunkMax, 100),
		},
		{
			name:    "empty_file_id",
			fileID:  "",
			chunks:  makeRefs(1024),
			wantErr: ErrManifestMalformed,
		},
		{
			name:    "file_id_too_long",
			fileID:  string(bytes.Repeat([]byte("x"), MaxFileIDLength+1)),
			chunks:  makeRefs(1024),
			wantErr: ErrManifestMalformed,
		},
		{
			name:    "no_chunks",
			fileID:  "file-3",
			chunks:  nil,
			wantErr: ErrEmptyManifest,
		},
		{
			name:    "oversize_chunk",
			fileID:  "file-4",
			chunks:  []ChunkRef{{ID: NewChunkID([]byte("a")), Index: 0, Size: ChunkMax + 1}},
			wantErr: ErrChunkOversize,
		},
		{
			name:    "zero_size_chunk",
			fileID:  "file-5",
			chunks:  []ChunkRef{{ID: NewChunkID([]byte("a")), Index: 0, Size: 0}},
			wantErr: ErrManifestMalformed,
		},
		{
			name:   "non_contiguous_indices",
			fileID: "file-6",
			chunks: []ChunkRef{
				{ID: NewChunkID([]byte("a")), Index: 0, Size: 10},
				{ID: NewChunkID([]byte("b")), Index: 2, Size: 10},
			},
			wantErr: ErrManifestMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Build(tt.fileID, tt.chunks, Metadata{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.fileID, m.FileID)
			assert.Equal(t, len(tt.chunks), m.NumChunks())

			var total uint64
			for _, c := range tt.chunks {
				total += uint64(c.Size)
			}
			assert.Equal(t, total, m.TotalSize)
		})
	}
}

func TestBuildFileHashIsOrderSensitive(t *testing.T) {
	refs := makeRefs(10, 20)

	m1, err := Build("f", refs, Metadata{})
	require.NoError(t, err)

	swapped := []ChunkRef{
		{ID: refs[1].ID, Index: 0, Size: refs[1].Size},
		{ID: refs[0].ID, Index: 1, Size: refs[0].Size},
	}
	m2, err := Build("f", swapped, Metadata{})
	require.NoError(t, err)

	assert.NotEqual(t, m1.FileHash, m2.FileHash)
}

func TestBuildCopiesChunkSlice(t *testing.T) {
	refs := makeRefs(10)
	m, err := Build("f", refs, Metadata{})
	require.NoError(t, err)

	refs[0].Size = 999
	assert.Equal(t, uint32(10), m.Chunks[0].Size)
}

func TestVerifyChunk(t *testing.T) {
	data := []byte("hello chunk")
	ref := ChunkRef{ID: NewChunkID(data), Index: 0, Size: uint32(len(data))}

	assert.True(t, VerifyChunk(ref, data))
	assert.False(t, VerifyChunk(ref, []byte("hello chunk!")), "length mismatch")

	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xff
	assert.False(t, VerifyChunk(ref, corrupted), "content mismatch")
}

func TestVerifyFile(t *testing.T) {
	m, _, err := ChunkBytes("f", "a.bin", bytes.Repeat([]byte("x"), 300), 100)
	require.NoError(t, err)

	assert.True(t, m.VerifyFile(m.ChunkIDs()))

	ids := m.ChunkIDs()
	ids[1] = NewChunkID([]byte("other"))
	assert.False(t, m.VerifyFile(ids))

	assert.False(t, m.VerifyFile(ids[:2]), "wrong count")
}

func TestChunkBytesRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		dataLen   int
		chunkSize int
		wantCount int
	}{
		{name: "exact_multiple", dataLen: 1000, chunkSize: 250, wantCount: 4},
		{name: "short_tail", dataLen: 1001, chunkSize: 250, wantCount: 5},
		{name: "single_chunk", dataLen: 10, chunkSize: 250, wantCount: 1},
		{name: "one_byte", dataLen: 1, chunkSize: DefaultChunkSize, wantCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.dataLen)
			for i := range data {
				data[i] = byte(i)
			}

			m, chunks, err := ChunkBytes("f", "a.bin", data, tt.chunkSize)
			require.NoError(t, err)
			require.Len(t, chunks, tt.wantCount)
			assert.Equal(t, uint64(tt.dataLen), m.TotalSize)

			for i, chunk := range chunks {
				assert.True(t, VerifyChunk(m.Chunks[i], chunk))
			}

			out, err := Reassemble(m, chunks)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestChunkBytesRejectsEmptyInput(t *testing.T) {
	_, _, err := ChunkBytes("f", "a.bin", nil, DefaultChunkSize)
	assert.ErrorIs(t, err, ErrEmptyManifest)
}

func TestChunkBytesRejectsBadChunkSize(t *testing.T) {
	_, _, err := ChunkBytes("f", "a.bin", []byte("data"), 0)
	assert.ErrorIs(t, err, ErrChunkOversize)

	_, _, err = ChunkBytes("f", "a.bin", []byte("data"), ChunkMax+1)
	assert.ErrorIs(t, err, ErrChunkOversize)
}

func TestReassembleRejectsCorruptChunk(t *testing.T) {
	m, chunks, err := ChunkBytes("f", "a.bin", bytes.Repeat([]byte("y"), 500), 100)
	require.NoError(t, err)

	chunks[2] = append([]byte(nil), chunks[2]...)
	chunks[2][0] ^= 0xff

	_, err = Reassemble(m, chunks)
	assert.ErrorIs(t, err, ErrManifestMalformed)
}

func TestNewChunkIDMatchesSHA256(t *testing.T) {
	data := []byte("content addressed")
	want := sha256.Sum256(data)
	assert.Equal(t, ChunkID(want), NewChunkID(data))
}
