// Package manifest describes files as ordered lists of content-addressed
// chunks for peer-to-peer transfer.
//
// A Manifest is immutable once built: both peers address chunks and verify
// transfer progress entirely through it. Chunk ids are SHA-256 hashes of the
// chunk bytes; the manifest's file hash is the SHA-256 of the ordered
// concatenation of chunk ids, so it can be computed and re-verified without
// re-reading the file.
//
// Example:
//
//	m, chunks, err := manifest.ChunkBytes(fileID, "photo.jpg", data, manifest.DefaultChunkSize)
//	if err != nil {
//	    return err
//	}
//	for i, ref := range m.Chunks {
//	    store.Put(ref.ID, chunks[i])
//	}
package manifest
