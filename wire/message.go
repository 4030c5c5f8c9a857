package wire

import (
	"github.com/umbra-im/umbrafile/manifest"
)

// Tag identifies a protocol message variant on the wire. Values are stable
// protocol constants.
type Tag byte

const (
	TagTransferRequest Tag = iota + 1
	TagTransferAccept
	TagTransferReject
	TagChunkData
	TagChunkAck
	TagChunkNack
	TagTransferComplete
	TagTransferAbort
)

// String returns the variant name for logging.
func (t Tag) String() string {
	switch t {
	case TagTransferRequest:
		return "TransferRequest"
	case TagTransferAccept:
		return "TransferAccept"
	case TagTransferReject:
		return "TransferReject"
	case TagChunkData:
		return "ChunkData"
	case TagChunkAck:
		return "ChunkAck"
	case TagChunkNack:
		return "ChunkNack"
	case TagTransferComplete:
		return "TransferComplete"
	case TagTransferAbort:
		return "TransferAbort"
	default:
		return "Unknown"
	}
}

// NackReason classifies a chunk rejection.
type NackReason byte

const (
	// NackMalformed indicates a structurally invalid chunk frame
	// (out-of-range index or length mismatch).
	NackMalformed NackReason = iota + 1
	// NackIntegrity indicates the chunk hash did not match its id.
	NackIntegrity
	// NackStorageFull indicates the receiver could not persist the chunk.
	NackStorageFull
)

// Retriable reports whether the sender may retry the chunk. Only integrity
// failures are transient; everything else is fatal to the transfer.
func (r NackReason) Retriable() bool {
	return r == NackIntegrity
}

// String returns the reason name for logging.
func (r NackReason) String() string {
	switch r {
	case NackMalformed:
		return "malformed"
	case NackIntegrity:
		return "integrity_failed"
	case NackStorageFull:
		return "storage_full"
	default:
		return "unknown"
	}
}

// Message is a decoded protocol message. Concrete types are the eight
// variants below.
type Message interface {
	// Tag returns the wire tag of the variant.
	Tag() Tag
	// FileID returns the transfer the message belongs to.
	FileID() string
}

// TransferRequest opens a transfer: the sender offers a manifest.
type TransferRequest struct {
	Manifest *manifest.Manifest
}

func (*TransferRequest) Tag() Tag         { return TagTransferRequest }
func (m *TransferRequest) FileID() string { return m.Manifest.FileID }

// TransferAccept is the receiver's consent, advertising chunks it already
// holds locally so the sender can skip them.
type TransferAccept struct {
	ID          string
	AlreadyHave *manifest.Bitset
}

func (*TransferAccept) Tag() Tag         { return TagTransferAccept }
func (m *TransferAccept) FileID() string { return m.ID }

// TransferReject declines a transfer request.
type TransferReject struct {
	ID     string
	Reason string
}

func (*TransferReject) Tag() Tag         { return TagTransferReject }
func (m *TransferReject) FileID() string { return m.ID }

// ChunkData carries one chunk payload. Data length must equal the manifest
// descriptor size at Index.
type ChunkData struct {
	ID    string
	Index uint32
	Data  []byte
}

func (*ChunkData) Tag() Tag         { return TagChunkData }
func (m *ChunkData) FileID() string { return m.ID }

// ChunkAck acknowledges a verified and persisted chunk.
type ChunkAck struct {
	ID    string
	Index uint32
}

func (*ChunkAck) Tag() Tag         { return TagChunkAck }
func (m *ChunkAck) FileID() string { return m.ID }

// ChunkNack rejects a chunk with a reason.
type ChunkNack struct {
	ID     string
	Index  uint32
	Reason NackReason
}

func (*ChunkNack) Tag() Tag         { return TagChunkNack }
func (m *ChunkNack) FileID() string { return m.ID }

// TransferComplete is the sender's assertion that every chunk was sent and
// acknowledged.
type TransferComplete struct {
	ID string
}

func (*TransferComplete) Tag() Tag         { return TagTransferComplete }
func (m *TransferComplete) FileID() string { return m.ID }

// TransferAbort terminates a transfer from either side at any time.
type TransferAbort struct {
	ID     string
	Reason string
}

func (*TransferAbort) Tag() Tag         { return TagTransferAbort }
func (m *TransferAbort) FileID() string { return m.ID }
