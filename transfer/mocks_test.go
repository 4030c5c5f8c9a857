package transfer

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umbra-im/umbrafile/manifest"
	"github.com/umbra-im/umbrafile/storage"
	"github.com/umbra-im/umbrafile/transport"
	"github.com/umbra-im/umbrafile/wire"
)

// fastConfig keeps test transfers snappy without touching the protocol
// semantics under test.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.RetransmitFloor = 250 * time.Millisecond
	return cfg
}

// stagedTransfer builds a manifest over deterministic data and loads every
// chunk into a fresh sender-side store.
func stagedTransfer(t *testing.T, fileID string, dataLen, chunkSize int) (*manifest.Manifest, *storage.MemoryStore, []byte) {
	t.Helper()

	data := make([]byte, dataLen)
	for i := range data {
		data[i] = byte(i * 7)
	}

	m, chunks, err := manifest.ChunkBytes(fileID, "test.bin", data, chunkSize)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	for i, ref := range m.Chunks {
		require.NoError(t, store.Put(ref.ID, chunks[i]))
	}
	return m, store, data
}

// startPair wires a sender and a receiver session over the given transports,
// performing the offer read the accepting side would normally do.
func startPair(t *testing.T, m *manifest.Manifest, senderStore, receiverStore storage.ChunkStore,
	senderTr, receiverTr transport.FrameTransport, cfg Config) (*Session, *Session) {
	t.Helper()

	sender, err := StartSend(m, senderStore, "peer-b", senderTr, cfg)
	require.NoError(t, err)

	frame, err := receiverTr.RecvFrame()
	require.NoError(t, err)
	msg, err := wire.Unmarshal(frame)
	require.NoError(t, err)
	req, ok := msg.(*wire.TransferRequest)
	require.True(t, ok, "first frame must be the transfer offer")

	receiver, err := Accept(req, receiverStore, "peer-a", receiverTr, cfg)
	require.NoError(t, err)
	return sender, receiver
}

// awaitOutcome waits for a terminal state with a test-sized deadline.
func awaitOutcome(t *testing.T, s *Session, timeout time.Duration) Outcome {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := s.AwaitTerminal(ctx)
	if err != nil {
		t.Fatalf("session %s/%s did not terminate within %s", s.Role(), s.FileID(), timeout)
	}
	return out
}

// verifyReceived reassembles the file from the receiver's store and compares
// it against the original bytes.
func verifyReceived(t *testing.T, m *manifest.Manifest, store storage.ChunkStore, want []byte) {
	t.Helper()
	chunks := make([][]byte, m.NumChunks())
	for i, ref := range m.Chunks {
		data, err := store.Get(ref.ID)
		require.NoError(t, err)
		chunks[i] = data
	}
	got, err := manifest.Reassemble(m, chunks)
	require.NoError(t, err)
	require.True(t, bytes.Equal(want, got), "reassembled file differs from source")
}

// tagCountingTransport counts outbound frames by wire tag.
type tagCountingTransport struct {
	transport.FrameTransport

	mu   sync.Mutex
	sent map[wire.Tag]int
}

func newTagCounting(tr transport.FrameTransport) *tagCountingTransport {
	return &tagCountingTransport{FrameTransport: tr, sent: make(map[wire.Tag]int)}
}

func (c *tagCountingTransport) SendFrame(frame []byte) error {
	if err := c.FrameTransport.SendFrame(frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent[wire.Tag(frame[0])]++
	c.mu.Unlock()
	return nil
}

func (c *tagCountingTransport) count(tag wire.Tag) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[tag]
}

// corruptingTransport flips a payload byte in chunk frames for the target
// index, up to maxHits times, simulating in-flight corruption.
type corruptingTransport struct {
	transport.FrameTransport

	target  uint32
	maxHits int

	mu   sync.Mutex
	hits int
}

func newCorrupting(tr transport.FrameTransport, target uint32, maxHits int) *corruptingTransport {
	return &corruptingTransport{FrameTransport: tr, target: target, maxHits: maxHits}
}

func (c *corruptingTransport) SendFrame(frame []byte) error {
	c.mu.Lock()
	if c.hits < c.maxHits && wire.Tag(frame[0]) == wire.TagChunkData {
		if msg, err := wire.Unmarshal(frame); err == nil {
			if cd, ok := msg.(*wire.ChunkData); ok && cd.Index == c.target {
				cd.Data = append([]byte(nil), cd.Data...)
				cd.Data[0] ^= 0xff
				if body, merr := wire.Marshal(cd); merr == nil {
					frame = body
					c.hits++
				}
			}
		}
	}
	c.mu.Unlock()
	return c.FrameTransport.SendFrame(frame)
}

// slowStore delays every Put, stretching a transfer out so tests can act
// mid-flight.
type slowStore struct {
	storage.ChunkStore
	delay time.Duration
}

func (s *slowStore) Put(id manifest.ChunkID, data []byte) error {
	time.Sleep(s.delay)
	return s.ChunkStore.Put(id, data)
}
