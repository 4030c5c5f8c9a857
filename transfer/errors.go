package transfer

import "errors"

// Role identifies which side of a transfer a session plays.
type Role uint8

const (
	// RoleSender streams chunks out of the local store.
	RoleSender Role = iota
	// RoleReceiver verifies and persists incoming chunks.
	RoleReceiver
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// State is a session lifecycle state. Transitions are driven exclusively by
// the session event loop; once a terminal state is reached it never changes.
type State uint8

const (
	// StateIdle is the state before the opening frame has been sent.
	StateIdle State = iota
	// StateNegotiating means the sender has offered the manifest and is
	// waiting for accept or reject.
	StateNegotiating
	// StateTransferring is the chunk exchange phase.
	StateTransferring
	// StateCompleting means all chunks are accounted for and the final
	// completion frame is in flight.
	StateCompleting
	// StateCompleted is the successful terminal state.
	StateCompleted
	// StateFailed is the terminal state for protocol, integrity, storage,
	// transport and timeout failures.
	StateFailed
	// StateCancelled is the terminal state for deliberate local or peer
	// cancellation.
	StateCancelled
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateTransferring:
		return "transferring"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Failure classification. Outcome.Err wraps exactly one of these sentinels
// (or is nil for StateCompleted), so callers can errors.Is against them.
var (
	// ErrProtocolViolation covers frames that are out of protocol: unknown
	// or unexpected message types, wrong file ids, oversize frames,
	// undecodable payloads.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrIntegrityFailed means chunk hashes kept diverging from the
	// manifest beyond the failure threshold.
	ErrIntegrityFailed = errors.New("chunk integrity failed")

	// ErrStalled means the transfer made no progress within its deadlines:
	// negotiation timeout, overall timeout, or a chunk that exhausted its
	// retry budget.
	ErrStalled = errors.New("transfer stalled")

	// ErrStorageFailed means the chunk store could not serve a read or
	// write.
	ErrStorageFailed = errors.New("chunk storage failed")

	// ErrPeerAborted means the peer tore the transfer down with an abort
	// frame.
	ErrPeerAborted = errors.New("transfer aborted by peer")

	// ErrRejected means the receiver declined the transfer offer.
	ErrRejected = errors.New("transfer rejected by peer")

	// ErrCancelled means the transfer was cancelled deliberately, locally
	// or by the peer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrTransportClosed means the underlying transport closed before the
	// transfer finished.
	ErrTransportClosed = errors.New("transport closed mid-transfer")

	// ErrCorrupted means the assembled file hash did not match the
	// manifest even though every chunk verified individually.
	ErrCorrupted = errors.New("assembled file hash mismatch")
)

// Outcome is the terminal result of a session.
type Outcome struct {
	// State is StateCompleted, StateFailed or StateCancelled.
	State State
	// Err is nil for StateCompleted, otherwise wraps one of the failure
	// sentinels above.
	Err error
}
