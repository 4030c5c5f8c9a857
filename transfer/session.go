package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/umbra-im/umbrafile/manifest"
	"github.com/umbra-im/umbrafile/storage"
	"github.com/umbra-im/umbrafile/transport"
	"github.com/umbra-im/umbrafile/wire"
)

// AbortReasonCancelled is the abort reason carried by a deliberate local
// cancellation. Peers map it back to StateCancelled rather than StateFailed.
const AbortReasonCancelled = "cancelled"

// Config tunes a session's deadlines and failure thresholds. The zero value
// of a field selects its default; use DefaultConfig as a starting point.
type Config struct {
	// NegotiationTimeout bounds the wait for accept/reject after the offer.
	NegotiationTimeout time.Duration
	// OverallTimeout bounds the whole transfer. Zero disables it.
	OverallTimeout time.Duration
	// RetryBudget is how many times a single chunk may be retransmitted
	// before the transfer is declared stalled.
	RetryBudget int
	// FailureThreshold is how many integrity failures in a row (sender:
	// retriable nacks; receiver: hash mismatches) or malformed chunk frames
	// in total a side tolerates before aborting.
	FailureThreshold int
	// TickInterval is the event loop timer granularity.
	TickInterval time.Duration
	// RetransmitFloor is the minimum retransmission timeout.
	RetransmitFloor time.Duration
	// CancelGrace is how long a locally cancelled session keeps its
	// transport open so the abort frame and the peer's in-flight traffic
	// can drain.
	CancelGrace time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		NegotiationTimeout: 30 * time.Second,
		OverallTimeout:     0,
		RetryBudget:        3,
		FailureThreshold:   8,
		TickInterval:       100 * time.Millisecond,
		RetransmitFloor:    DefaultRetransmitFloor,
		CancelGrace:        time.Second,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = def.NegotiationTimeout
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = def.RetryBudget
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.RetransmitFloor <= 0 {
		c.RetransmitFloor = def.RetransmitFloor
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = def.CancelGrace
	}
	return c
}

// Progress is a point-in-time snapshot of a session.
type Progress struct {
	State           State
	CompletedChunks int
	TotalChunks     int
	BytesDone       uint64
	TotalBytes      uint64
	BytesPerSecond  uint64
}

// Session is one directed transfer of one file with one peer. All protocol
// work happens on an internal event loop goroutine; the exported methods are
// safe for concurrent use.
type Session struct {
	role  Role
	m     *manifest.Manifest
	peer  string
	store storage.ChunkStore
	tr    transport.FrameTransport
	cfg   Config
	log   *logrus.Entry

	// Event loop state. Only the run goroutine touches these.
	window      *Window
	speed       *speedTracker
	completed   *manifest.Bitset
	alreadyHave *manifest.Bitset
	inFlight    map[uint32]time.Time
	retryQueue  []uint32
	retries     map[uint32]int
	nextIndex   uint32
	lastChunkAt time.Time

	integrityStreak int
	malformedTotal  int

	negotiationDeadline time.Time
	overallDeadline     time.Time

	frames  chan []byte
	readErr chan error

	cancelCh   chan struct{}
	cancelOnce sync.Once

	done    chan struct{}
	outcome Outcome

	// Published snapshot, guarded by mu.
	mu             sync.Mutex
	state          State
	completedCount int
	bytesDone      uint64
	bytesPerSecond uint64
}

func newSession(role Role, m *manifest.Manifest, store storage.ChunkStore, peer string, tr transport.FrameTransport, cfg Config) (*Session, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil manifest", ErrProtocolViolation)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil chunk store", ErrStorageFailed)
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrTransportClosed)
	}
	cfg = cfg.normalized()

	return &Session{
		role:  role,
		m:     m,
		peer:  peer,
		store: store,
		tr:    tr,
		cfg:   cfg,
		log: logrus.WithFields(logrus.Fields{
			"file_id": m.FileID,
			"peer":    peer,
			"role":    role.String(),
		}),
		window:    NewWindow(cfg.RetransmitFloor),
		speed:     newSpeedTracker(),
		completed: manifest.NewBitset(m.NumChunks()),
		inFlight:  make(map[uint32]time.Time),
		retries:   make(map[uint32]int),
		// Capacity 1: the receiving side holds at most one undelivered frame
		// while the loop processes another; the sender's window is the only
		// place allowed to hold a window's worth of chunk buffers.
		frames:   make(chan []byte, 1),
		readErr:  make(chan error, 1),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateIdle,
	}, nil
}

// StartSend offers the manifest to the peer and begins streaming chunks from
// the store once the peer accepts. Every chunk named by the manifest must be
// resident in the store.
func StartSend(m *manifest.Manifest, store storage.ChunkStore, peer string, tr transport.FrameTransport, cfg Config) (*Session, error) {
	s, err := newSession(RoleSender, m, store, peer, tr, cfg)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"function":   "StartSend",
		"chunks":     m.NumChunks(),
		"total_size": m.TotalSize,
	}).Info("Starting outbound transfer")

	go s.readLoop()
	go s.run()
	return s, nil
}

// Accept consents to a received TransferRequest and begins receiving chunks.
// Chunks already present in the store are advertised to the sender and
// skipped. Use Reject to decline instead.
func Accept(req *wire.TransferRequest, store storage.ChunkStore, peer string, tr transport.FrameTransport, cfg Config) (*Session, error) {
	if req == nil || req.Manifest == nil {
		return nil, fmt.Errorf("%w: nil transfer request", ErrProtocolViolation)
	}
	s, err := newSession(RoleReceiver, req.Manifest, store, peer, tr, cfg)
	if err != nil {
		return nil, err
	}

	for _, ref := range s.m.Chunks {
		if store.Has(ref.ID) {
			s.completed.Set(int(ref.Index))
			s.completedCount++
			s.bytesDone += uint64(ref.Size)
		}
	}
	s.alreadyHave = s.completed.Clone()

	s.log.WithFields(logrus.Fields{
		"function":     "Accept",
		"chunks":       s.m.NumChunks(),
		"already_have": s.completedCount,
		"total_size":   s.m.TotalSize,
	}).Info("Accepting inbound transfer")

	go s.readLoop()
	go s.run()
	return s, nil
}

// Reject declines a transfer offer without creating a session.
func Reject(tr transport.FrameTransport, fileID, reason string) error {
	body, err := wire.Marshal(&wire.TransferReject{ID: fileID, Reason: reason})
	if err != nil {
		return err
	}
	return tr.SendFrame(body)
}

// Role returns which side of the transfer this session plays.
func (s *Session) Role() Role { return s.role }

// FileID returns the transfer's file identifier.
func (s *Session) FileID() string { return s.m.FileID }

// Peer returns the peer identifier the session was created with.
func (s *Session) Peer() string { return s.peer }

// Manifest returns the manifest being transferred.
func (s *Session) Manifest() *manifest.Manifest { return s.m }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns a snapshot of transfer progress.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{
		State:           s.state,
		CompletedChunks: s.completedCount,
		TotalChunks:     s.m.NumChunks(),
		BytesDone:       s.bytesDone,
		TotalBytes:      s.m.TotalSize,
		BytesPerSecond:  s.bytesPerSecond,
	}
}

// Cancel requests cancellation. It is idempotent, returns immediately, and
// the session reaches StateCancelled promptly; an abort frame is sent to the
// peer on a best-effort basis.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)
	})
}

// AwaitTerminal blocks until the session reaches a terminal state or the
// context expires. The session keeps running if the context expires first.
func (s *Session) AwaitTerminal(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Done returns a channel closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// readLoop pumps transport frames into the event loop. It exits on the first
// transport error or when the session terminates.
func (s *Session) readLoop() {
	for {
		frame, err := s.tr.RecvFrame()
		if err != nil {
			select {
			case s.readErr <- err:
			case <-s.done:
			}
			return
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// run is the session event loop. Every handler returns true when the session
// has reached a terminal state.
func (s *Session) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	now := time.Now()
	s.negotiationDeadline = now.Add(s.cfg.NegotiationTimeout)
	if s.cfg.OverallTimeout > 0 {
		s.overallDeadline = now.Add(s.cfg.OverallTimeout)
	}

	if !s.open() {
		return
	}

	for {
		select {
		case <-s.cancelCh:
			s.finishCancelled()
			return
		case err := <-s.readErr:
			s.handleReadError(err)
			return
		case frame := <-s.frames:
			if s.handleFrame(frame) {
				return
			}
		case <-ticker.C:
			if s.handleTick(time.Now()) {
				return
			}
		}
	}
}

// open sends the session's first frame: the manifest offer for a sender, the
// accept with the already-have set for a receiver.
func (s *Session) open() bool {
	if s.role == RoleSender {
		s.setState(StateNegotiating)
		return s.sendMsg(&wire.TransferRequest{Manifest: s.m})
	}

	if !s.sendMsg(&wire.TransferAccept{ID: s.m.FileID, AlreadyHave: s.alreadyHave}) {
		return false
	}
	s.setState(StateTransferring)
	s.lastChunkAt = time.Now()
	if s.completed.All() {
		// Everything was resident locally; just wait for the completion
		// frame.
		s.setState(StateCompleting)
	}
	return true
}

func (s *Session) handleReadError(err error) {
	if errors.Is(err, wire.ErrFrameTooLarge) || errors.Is(err, wire.ErrEmptyFrame) {
		s.abort("oversize frame")
		s.terminate(StateFailed, fmt.Errorf("%w: %v", ErrProtocolViolation, err))
		return
	}
	s.terminate(StateFailed, fmt.Errorf("%w: %v", ErrTransportClosed, err))
}

// handleFrame decodes and dispatches one inbound frame. Transports without
// stream framing (in-memory pipes) bypass wire.ReadFrame, so the size ceiling
// is enforced here as well.
func (s *Session) handleFrame(frame []byte) bool {
	if len(frame) > wire.MaxChunkFrame {
		s.abort("oversize frame")
		s.terminate(StateFailed, fmt.Errorf("%w: %d byte frame", ErrProtocolViolation, len(frame)))
		return true
	}

	msg, err := wire.Unmarshal(frame)
	if err != nil {
		s.abort("undecodable frame")
		s.terminate(StateFailed, fmt.Errorf("%w: %v", ErrProtocolViolation, err))
		return true
	}

	if msg.FileID() != s.m.FileID {
		return s.failProtocol(fmt.Errorf("frame for file %q on session for %q", msg.FileID(), s.m.FileID))
	}

	if s.role == RoleSender {
		return s.senderHandle(msg)
	}
	return s.receiverHandle(msg)
}

// handleTick enforces deadlines and, on the sender, retransmission timeouts.
func (s *Session) handleTick(now time.Time) bool {
	st := s.State()

	if st == StateNegotiating && now.After(s.negotiationDeadline) {
		s.abort("negotiation timeout")
		s.terminate(StateFailed, fmt.Errorf("%w: no response within %s", ErrStalled, s.cfg.NegotiationTimeout))
		return true
	}

	if !s.overallDeadline.IsZero() && now.After(s.overallDeadline) {
		s.abort("overall timeout")
		s.terminate(StateFailed, fmt.Errorf("%w: transfer exceeded %s", ErrStalled, s.cfg.OverallTimeout))
		return true
	}

	if s.role == RoleSender && st == StateTransferring {
		return s.senderTick(now)
	}
	return false
}

// sendMsg marshals and sends one message. On failure it terminates the
// session and returns false.
func (s *Session) sendMsg(msg wire.Message) bool {
	body, err := wire.Marshal(msg)
	if err != nil {
		s.terminate(StateFailed, fmt.Errorf("%w: encode %s: %v", ErrProtocolViolation, msg.Tag(), err))
		return false
	}
	if err := s.tr.SendFrame(body); err != nil {
		s.terminate(StateFailed, fmt.Errorf("%w: send %s: %v", ErrTransportClosed, msg.Tag(), err))
		return false
	}
	return true
}

// abort sends a best-effort abort frame; the peer may already be gone.
func (s *Session) abort(reason string) {
	body, err := wire.Marshal(&wire.TransferAbort{ID: s.m.FileID, Reason: reason})
	if err != nil {
		return
	}
	_ = s.tr.SendFrame(body)
}

// peerAbort maps an inbound abort to a terminal state. A deliberate peer
// cancellation lands in StateCancelled; anything else is a failure.
func (s *Session) peerAbort(reason string) {
	if reason == AbortReasonCancelled {
		s.terminate(StateCancelled, fmt.Errorf("%w by peer", ErrCancelled))
		return
	}
	s.terminate(StateFailed, fmt.Errorf("%w: %s", ErrPeerAborted, reason))
}

// finishCancelled completes a local cancellation. The transport stays open
// for a grace period so the abort frame and the peer's in-flight traffic can
// drain; the session itself is terminal immediately.
func (s *Session) finishCancelled() {
	s.abort(AbortReasonCancelled)
	s.finish(StateCancelled, ErrCancelled, false)

	tr := s.tr
	time.AfterFunc(s.cfg.CancelGrace, func() {
		_ = tr.Close()
	})
}

func (s *Session) failProtocol(cause error) bool {
	s.abort("protocol violation")
	s.terminate(StateFailed, fmt.Errorf("%w: %v", ErrProtocolViolation, cause))
	return true
}

// terminate moves the session into a terminal state exactly once and closes
// the transport. The outcome is published before done is closed in run.
func (s *Session) terminate(state State, err error) {
	s.finish(state, err, true)
}

func (s *Session) finish(state State, err error, closeTransport bool) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.outcome = Outcome{State: state, Err: err}
	if closeTransport {
		_ = s.tr.Close()
	}

	entry := s.log.WithFields(logrus.Fields{
		"function": "terminate",
		"state":    state.String(),
	})
	switch state {
	case StateCompleted:
		entry.Info("Transfer completed")
	case StateCancelled:
		entry.Info("Transfer cancelled")
	default:
		entry.WithError(err).Warn("Transfer failed")
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = state
	}
	s.mu.Unlock()
}

// markCompleted records one finished chunk in the loop-owned bitset and the
// published snapshot.
func (s *Session) markCompleted(index uint32, size uint32) {
	if s.completed.Get(int(index)) {
		return
	}
	s.completed.Set(int(index))

	s.mu.Lock()
	s.completedCount++
	s.bytesDone += uint64(size)
	s.bytesPerSecond = s.speed.bytesPerSecond()
	s.mu.Unlock()
}
