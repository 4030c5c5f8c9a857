package transfer

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/umbra-im/umbrafile/manifest"
	"github.com/umbra-im/umbrafile/wire"
)

// receiverHandle dispatches one inbound message on the receiving side.
// Returns true when the session has terminated.
func (s *Session) receiverHandle(msg wire.Message) bool {
	switch m := msg.(type) {
	case *wire.ChunkData:
		return s.receiveChunk(m)
	case *wire.TransferComplete:
		if s.State() != StateCompleting {
			return s.failProtocol(fmt.Errorf("TransferComplete with %d of %d chunks",
				s.completed.Count(), s.m.NumChunks()))
		}
		s.terminate(StateCompleted, nil)
		return true
	case *wire.TransferAbort:
		s.peerAbort(m.Reason)
		return true
	default:
		return s.failProtocol(fmt.Errorf("unexpected %s on receiver", msg.Tag()))
	}
}

// receiveChunk runs the acceptance chain for one chunk frame: index range,
// declared length, duplicate check, content hash, persistence. Only a chunk
// that survives all five is acknowledged as stored.
func (s *Session) receiveChunk(m *wire.ChunkData) bool {
	// Completing still accepts chunk frames: a retransmit of the final chunk
	// whose original ack crossed it on the wire arrives here and must be
	// re-acked so the sender's window can drain.
	if st := s.State(); st != StateTransferring && st != StateCompleting {
		return s.failProtocol(fmt.Errorf("ChunkData in state %s", st))
	}

	ref, ok := s.m.Chunk(m.Index)
	if !ok || uint32(len(m.Data)) != ref.Size {
		return s.receiverMalformed(m.Index, len(m.Data))
	}

	if s.completed.Get(int(m.Index)) {
		// Duplicate of a chunk already held, usually a retransmit that
		// crossed our ack. Re-ack without touching the store so the
		// sender's window can drain.
		s.log.WithFields(logrus.Fields{
			"function": "receiveChunk",
			"index":    m.Index,
		}).Debug("Re-acking duplicate chunk")
		return !s.sendMsg(&wire.ChunkAck{ID: s.m.FileID, Index: m.Index})
	}

	if !manifest.VerifyChunk(ref, m.Data) {
		s.integrityStreak++
		if s.integrityStreak >= s.cfg.FailureThreshold {
			s.abort("sustained integrity failures")
			s.terminate(StateFailed, fmt.Errorf("%w: %d consecutive hash mismatches", ErrIntegrityFailed, s.integrityStreak))
			return true
		}
		s.log.WithFields(logrus.Fields{
			"function": "receiveChunk",
			"index":    m.Index,
			"streak":   s.integrityStreak,
		}).Warn("Chunk hash mismatch")
		return !s.sendMsg(&wire.ChunkNack{ID: s.m.FileID, Index: m.Index, Reason: wire.NackIntegrity})
	}

	if err := s.store.Put(ref.ID, m.Data); err != nil {
		// Tell the sender before tearing down; it cannot retry its way out
		// of a full store.
		if body, merr := wire.Marshal(&wire.ChunkNack{ID: s.m.FileID, Index: m.Index, Reason: wire.NackStorageFull}); merr == nil {
			_ = s.tr.SendFrame(body)
		}
		s.abort("chunk store write failed")
		s.terminate(StateFailed, fmt.Errorf("%w: write chunk %d: %v", ErrStorageFailed, m.Index, err))
		return true
	}

	now := time.Now()
	s.speed.record(uint64(ref.Size), now.Sub(s.lastChunkAt))
	s.lastChunkAt = now
	s.integrityStreak = 0
	s.markCompleted(m.Index, ref.Size)

	if !s.sendMsg(&wire.ChunkAck{ID: s.m.FileID, Index: m.Index}) {
		return true
	}

	if s.completed.All() {
		// Chunk ids were verified individually, so this only fires on a
		// manifest whose file hash disagrees with its own chunk list.
		if !s.m.VerifyFile(s.m.ChunkIDs()) {
			s.abort("file hash mismatch")
			s.terminate(StateFailed, fmt.Errorf("%w for %q", ErrCorrupted, s.m.FileID))
			return true
		}
		s.setState(StateCompleting)
	}
	return false
}

// receiverMalformed nacks a structurally invalid chunk frame. Malformed
// frames accumulate toward the abort threshold for the whole session.
func (s *Session) receiverMalformed(index uint32, dataLen int) bool {
	s.malformedTotal++
	if s.malformedTotal >= s.cfg.FailureThreshold {
		s.abort("too many malformed frames")
		s.terminate(StateFailed, fmt.Errorf("%w: %d malformed chunk frames", ErrProtocolViolation, s.malformedTotal))
		return true
	}

	s.log.WithFields(logrus.Fields{
		"function": "receiverMalformed",
		"index":    index,
		"data_len": dataLen,
		"total":    s.malformedTotal,
	}).Warn("Malformed chunk frame")

	return !s.sendMsg(&wire.ChunkNack{ID: s.m.FileID, Index: index, Reason: wire.NackMalformed})
}
