package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/umbra-im/umbrafile/manifest"
	"github.com/umbra-im/umbrafile/storage"
	"github.com/umbra-im/umbrafile/transport"
	"github.com/umbra-im/umbrafile/wire"
)

// ErrTransferLimit indicates the per-direction concurrent transfer cap was
// reached.
var ErrTransferLimit = errors.New("concurrent transfer limit reached")

// ErrDuplicateTransfer indicates a session with the same peer, file id and
// direction already exists.
var ErrDuplicateTransfer = errors.New("transfer already active")

// Limits caps concurrent transfers per direction.
type Limits struct {
	MaxUploads   int
	MaxDownloads int
}

// DefaultLimits returns the production caps.
func DefaultLimits() Limits {
	return Limits{MaxUploads: 3, MaxDownloads: 3}
}

type sessionKey struct {
	peer   string
	fileID string
	role   Role
}

// Manager owns the set of live sessions, keyed by (peer, file id, direction),
// and enforces concurrency limits. Sessions for distinct keys run
// independently.
type Manager struct {
	limits Limits
	cfg    Config

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

// NewManager creates a session registry with the given limits and the session
// configuration applied to every transfer it starts.
func NewManager(limits Limits, cfg Config) *Manager {
	if limits.MaxUploads <= 0 {
		limits.MaxUploads = DefaultLimits().MaxUploads
	}
	if limits.MaxDownloads <= 0 {
		limits.MaxDownloads = DefaultLimits().MaxDownloads
	}
	return &Manager{
		limits:   limits,
		cfg:      cfg,
		sessions: make(map[sessionKey]*Session),
	}
}

// NewFileID mints a fresh transfer identifier.
func (mgr *Manager) NewFileID() string {
	return uuid.NewString()
}

// StartSend registers and starts an outbound transfer. It fails without
// touching the transport when the upload limit is reached or an identical
// transfer is already running.
func (mgr *Manager) StartSend(m *manifest.Manifest, store storage.ChunkStore, peer string, tr transport.FrameTransport) (*Session, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil manifest", ErrProtocolViolation)
	}
	key := sessionKey{peer: peer, fileID: m.FileID, role: RoleSender}

	// Admission and registration stay under one lock so concurrent starts
	// cannot slip past the limit together.
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if err := mgr.admit(key, RoleSender); err != nil {
		return nil, err
	}
	s, err := StartSend(m, store, peer, tr, mgr.cfg)
	if err != nil {
		return nil, err
	}
	mgr.sessions[key] = s
	return s, nil
}

// Accept registers and starts an inbound transfer for a received offer. When
// the download limit is reached the offer is rejected on the wire and
// ErrTransferLimit is returned.
func (mgr *Manager) Accept(req *wire.TransferRequest, store storage.ChunkStore, peer string, tr transport.FrameTransport) (*Session, error) {
	if req == nil || req.Manifest == nil {
		return nil, fmt.Errorf("%w: nil transfer request", ErrProtocolViolation)
	}
	key := sessionKey{peer: peer, fileID: req.Manifest.FileID, role: RoleReceiver}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if err := mgr.admit(key, RoleReceiver); err != nil {
		if errors.Is(err, ErrTransferLimit) {
			if rerr := Reject(tr, req.Manifest.FileID, "too many concurrent downloads"); rerr != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Accept",
					"file_id":  req.Manifest.FileID,
					"peer":     peer,
				}).WithError(rerr).Debug("Failed to send limit rejection")
			}
		}
		return nil, err
	}

	s, err := Accept(req, store, peer, tr, mgr.cfg)
	if err != nil {
		return nil, err
	}
	mgr.sessions[key] = s
	return s, nil
}

// admit checks the duplicate and limit invariants. Caller holds mgr.mu.
func (mgr *Manager) admit(key sessionKey, role Role) error {
	if existing, ok := mgr.sessions[key]; ok && !existing.State().Terminal() {
		return fmt.Errorf("%w: %s %q with %s", ErrDuplicateTransfer, key.role, key.fileID, key.peer)
	}

	limit := mgr.limits.MaxUploads
	if role == RoleReceiver {
		limit = mgr.limits.MaxDownloads
	}
	active := 0
	for k, s := range mgr.sessions {
		if k.role == role && !s.State().Terminal() {
			active++
		}
	}
	if active >= limit {
		return fmt.Errorf("%w: %d active %ss", ErrTransferLimit, active, role)
	}
	return nil
}

// Get returns the live session for a key, if any.
func (mgr *Manager) Get(peer, fileID string, role Role) (*Session, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	s, ok := mgr.sessions[sessionKey{peer: peer, fileID: fileID, role: role}]
	return s, ok
}

// Sessions returns a snapshot of every registered session, terminal ones
// included until Reap removes them.
func (mgr *Manager) Sessions() []*Session {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make([]*Session, 0, len(mgr.sessions))
	for _, s := range mgr.sessions {
		out = append(out, s)
	}
	return out
}

// CancelAll requests cancellation of every live session.
func (mgr *Manager) CancelAll() {
	for _, s := range mgr.Sessions() {
		s.Cancel()
	}
}

// Reap drops terminal sessions from the registry and returns how many were
// removed.
func (mgr *Manager) Reap() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	removed := 0
	for key, s := range mgr.sessions {
		if s.State().Terminal() {
			delete(mgr.sessions, key)
			removed++
		}
	}
	return removed
}
