// Package transfer implements the chunked peer-to-peer file transfer
// protocol: a per-transfer session state machine with adaptive sliding-window
// flow control over an authenticated framed transport.
//
// One Session exists per (direction, file id, peer). The sender drives
// chunks from a storage.ChunkStore through the window controller; the
// receiver verifies each chunk against the manifest and persists it before
// acknowledging. Both sides run the same state machine:
//
//	Idle -> Negotiating -> Transferring -> Completing -> Completed
//	{any} -> Failed | Cancelled
//
// All session events — inbound frames, timer ticks, cancellation — are
// serialized on a single event loop goroutine, so the state machine is
// observed atomically per event. Sessions are independent of one another and
// may run in parallel; multiplexing and concurrency limits live in Manager.
//
// Example (sending side):
//
//	m, chunks, _ := manifest.ChunkBytes(fileID, "backup.tar", data, manifest.DefaultChunkSize)
//	store := storage.NewMemoryStore()
//	for i, ref := range m.Chunks {
//	    store.Put(ref.ID, chunks[i])
//	}
//	session, err := transfer.StartSend(m, store, peerID, tr, transfer.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	outcome, err := session.AwaitTerminal(ctx)
package transfer
