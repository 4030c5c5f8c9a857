package transfer

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/umbra-im/umbrafile/wire"
)

// senderHandle dispatches one inbound message on the sending side. Returns
// true when the session has terminated.
func (s *Session) senderHandle(msg wire.Message) bool {
	switch m := msg.(type) {
	case *wire.TransferAccept:
		return s.senderAccept(m)
	case *wire.TransferReject:
		if s.State() != StateNegotiating {
			return s.failProtocol(fmt.Errorf("TransferReject in state %s", s.State()))
		}
		s.terminate(StateFailed, fmt.Errorf("%w: %s", ErrRejected, m.Reason))
		return true
	case *wire.ChunkAck:
		return s.senderAck(m)
	case *wire.ChunkNack:
		return s.senderNack(m)
	case *wire.TransferAbort:
		s.peerAbort(m.Reason)
		return true
	default:
		return s.failProtocol(fmt.Errorf("unexpected %s on sender", msg.Tag()))
	}
}

// senderAccept merges the receiver's already-have set and opens the window.
func (s *Session) senderAccept(m *wire.TransferAccept) bool {
	if s.State() != StateNegotiating {
		return s.failProtocol(fmt.Errorf("TransferAccept in state %s", s.State()))
	}
	if m.AlreadyHave == nil {
		return s.failProtocol(fmt.Errorf("accept without already-have set"))
	}
	if m.AlreadyHave.Len() != s.m.NumChunks() {
		return s.failProtocol(fmt.Errorf("already-have set sized for %d chunks, manifest has %d",
			m.AlreadyHave.Len(), s.m.NumChunks()))
	}

	for _, idx := range m.AlreadyHave.Indices() {
		ref, _ := s.m.Chunk(idx)
		s.markCompleted(idx, ref.Size)
	}

	s.log.WithFields(logrus.Fields{
		"function":     "senderAccept",
		"already_have": m.AlreadyHave.Count(),
	}).Debug("Transfer accepted")

	s.setState(StateTransferring)
	return s.pumpSender()
}

// senderAck retires one in-flight chunk and refills the window.
func (s *Session) senderAck(m *wire.ChunkAck) bool {
	if s.State() != StateTransferring {
		return s.failProtocol(fmt.Errorf("ChunkAck in state %s", s.State()))
	}

	sentAt, ok := s.inFlight[m.Index]
	if !ok {
		// Duplicate or stale ack, e.g. after a timeout-driven retransmit
		// crossed the original ack on the wire.
		s.log.WithFields(logrus.Fields{
			"function": "senderAck",
			"index":    m.Index,
		}).Debug("Ignoring ack for chunk not in flight")
		return false
	}
	delete(s.inFlight, m.Index)

	ref, found := s.m.Chunk(m.Index)
	if !found {
		return s.failProtocol(fmt.Errorf("ack for out-of-range chunk %d", m.Index))
	}

	rtt := time.Since(sentAt)
	s.window.OnSuccess(rtt)
	s.speed.record(uint64(ref.Size), rtt)
	s.markCompleted(m.Index, ref.Size)
	s.integrityStreak = 0

	return s.pumpSender()
}

// senderNack handles a chunk rejection. Integrity failures shrink the window
// and requeue the chunk; every other reason is fatal.
func (s *Session) senderNack(m *wire.ChunkNack) bool {
	if s.State() != StateTransferring {
		return s.failProtocol(fmt.Errorf("ChunkNack in state %s", s.State()))
	}

	if !m.Reason.Retriable() {
		s.abort("fatal nack: " + m.Reason.String())
		switch m.Reason {
		case wire.NackStorageFull:
			s.terminate(StateFailed, fmt.Errorf("%w: receiver reported %s", ErrStorageFailed, m.Reason))
		default:
			s.terminate(StateFailed, fmt.Errorf("%w: receiver reported %s for chunk %d", ErrProtocolViolation, m.Reason, m.Index))
		}
		return true
	}

	if _, ok := s.inFlight[m.Index]; !ok {
		return false
	}
	delete(s.inFlight, m.Index)

	s.integrityStreak++
	if s.integrityStreak >= s.cfg.FailureThreshold {
		s.abort("sustained integrity failures")
		s.terminate(StateFailed, fmt.Errorf("%w: %d consecutive integrity nacks", ErrIntegrityFailed, s.integrityStreak))
		return true
	}

	s.log.WithFields(logrus.Fields{
		"function": "senderNack",
		"index":    m.Index,
		"reason":   m.Reason.String(),
	}).Debug("Chunk nacked, requeueing")

	s.window.OnLoss()
	return s.requeue(m.Index)
}

// senderTick expires in-flight chunks past the retransmission timeout.
func (s *Session) senderTick(now time.Time) bool {
	timeout := s.window.RetransmitTimeout()

	var expired []uint32
	for idx, sentAt := range s.inFlight {
		if now.Sub(sentAt) >= timeout {
			expired = append(expired, idx)
		}
	}
	for _, idx := range expired {
		delete(s.inFlight, idx)
		s.window.OnLoss()
		s.log.WithFields(logrus.Fields{
			"function": "senderTick",
			"index":    idx,
			"timeout":  timeout,
		}).Debug("Chunk retransmission timeout")
		if s.requeue(idx) {
			return true
		}
	}
	return false
}

// requeue schedules a chunk for retransmission, charging its retry budget.
func (s *Session) requeue(idx uint32) bool {
	s.retries[idx]++
	if s.retries[idx] > s.cfg.RetryBudget {
		s.abort("retry budget exhausted")
		s.terminate(StateFailed, fmt.Errorf("%w: chunk %d failed %d retries", ErrStalled, idx, s.cfg.RetryBudget))
		return true
	}
	s.retryQueue = append(s.retryQueue, idx)
	return s.pumpSender()
}

// pumpSender fills the window with chunk frames and, once every chunk is
// acknowledged, finishes the transfer. Returns true when the session has
// terminated.
func (s *Session) pumpSender() bool {
	if s.State() != StateTransferring {
		return false
	}

	for len(s.inFlight) < s.window.Size() {
		idx, ok := s.nextChunk()
		if !ok {
			break
		}
		ref, _ := s.m.Chunk(idx)
		data, err := s.store.Get(ref.ID)
		if err != nil {
			s.abort("chunk store read failed")
			s.terminate(StateFailed, fmt.Errorf("%w: read chunk %d: %v", ErrStorageFailed, idx, err))
			return true
		}
		if !s.sendMsg(&wire.ChunkData{ID: s.m.FileID, Index: idx, Data: data}) {
			return true
		}
		s.inFlight[idx] = time.Now()
	}

	if len(s.inFlight) == 0 && s.completed.All() {
		s.setState(StateCompleting)
		if !s.sendMsg(&wire.TransferComplete{ID: s.m.FileID}) {
			return true
		}
		s.terminate(StateCompleted, nil)
		return true
	}
	return false
}

// nextChunk picks the next index to transmit: retransmissions first, then the
// lowest unsent index not already completed.
func (s *Session) nextChunk() (uint32, bool) {
	for len(s.retryQueue) > 0 {
		idx := s.retryQueue[0]
		s.retryQueue = s.retryQueue[1:]
		if !s.completed.Get(int(idx)) {
			return idx, true
		}
	}

	for int(s.nextIndex) < s.m.NumChunks() {
		idx := s.nextIndex
		s.nextIndex++
		if !s.completed.Get(int(idx)) {
			return idx, true
		}
	}
	return 0, false
}
