package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/umbra-im/umbrafile/manifest"
)

// MaxReasonLength bounds reject, nack, and abort reason strings.
const MaxReasonLength = 1024

var (
	// ErrUnknownMessage indicates an unrecognized wire tag.
	ErrUnknownMessage = errors.New("unknown message tag")

	// ErrTruncatedMessage indicates a payload shorter than its fields declare.
	ErrTruncatedMessage = errors.New("message truncated")

	// ErrMalformedMessage indicates a structurally invalid payload.
	ErrMalformedMessage = errors.New("malformed message")
)

// chunkRefWireSize is the encoded size of one chunk descriptor.
const chunkRefWireSize = manifest.HashSize + 4

// Marshal encodes a message as tag + payload, ready for WriteFrame.
func Marshal(msg Message) ([]byte, error) {
	w := encoder{buf: []byte{byte(msg.Tag())}}

	switch m := msg.(type) {
	case *TransferRequest:
		w.manifest(m.Manifest)
	case *TransferAccept:
		w.str8(m.ID)
		w.u32(uint32(m.AlreadyHave.Len()))
		w.raw(m.AlreadyHave.Bytes())
	case *TransferReject:
		w.str8(m.ID)
		w.str16(m.Reason)
	case *ChunkData:
		if len(m.Data) == 0 || len(m.Data) > manifest.ChunkMax {
			return nil, fmt.Errorf("%w: chunk payload %d bytes", ErrMalformedMessage, len(m.Data))
		}
		w.str8(m.ID)
		w.u32(m.Index)
		w.raw(m.Data)
	case *ChunkAck:
		w.str8(m.ID)
		w.u32(m.Index)
	case *ChunkNack:
		w.str8(m.ID)
		w.u32(m.Index)
		w.u8(byte(m.Reason))
	case *TransferComplete:
		w.str8(m.ID)
	case *TransferAbort:
		w.str8(m.ID)
		w.str16(m.Reason)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}

	if w.err != nil {
		return nil, w.err
	}
	if msg.Tag() == TagChunkData {
		if len(w.buf) > MaxChunkFrame {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(w.buf))
		}
	} else if len(w.buf) > MaxControlFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(w.buf))
	}
	return w.buf, nil
}

// Unmarshal decodes a frame body produced by Marshal. Structural bounds are
// validated before any derived allocation; ceilings are enforced per variant.
func Unmarshal(body []byte) (Message, error) {
	if len(body) < 1 {
		return nil, ErrTruncatedMessage
	}
	tag := Tag(body[0])

	switch {
	case tag == TagChunkData:
		if len(body) > MaxChunkFrame {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
		}
	case len(body) > MaxControlFrame:
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(body))
	}

	r := decoder{data: body[1:]}

	switch tag {
	case TagTransferRequest:
		m := r.manifest()
		if err := r.finish(); err != nil {
			return nil, err
		}
		return &TransferRequest{Manifest: m}, nil

	case TagTransferAccept:
		id := r.str8()
		nbits := r.u32()
		if r.err != nil {
			return nil, r.err
		}
		packed := r.rest()
		bs, err := manifest.BitsetFromBytes(int(nbits), packed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return &TransferAccept{ID: id, AlreadyHave: bs}, nil

	case TagTransferReject:
		m := &TransferReject{ID: r.str8(), Reason: r.str16()}
		if err := r.finish(); err != nil {
			return nil, err
		}
		return m, nil

	case TagChunkData:
		id := r.str8()
		index := r.u32()
		if r.err != nil {
			return nil, r.err
		}
		data := r.rest()
		if len(data) == 0 || len(data) > manifest.ChunkMax {
			return nil, fmt.Errorf("%w: chunk payload %d bytes", ErrMalformedMessage, len(data))
		}
		return &ChunkData{ID: id, Index: index, Data: data}, nil

	case TagChunkAck:
		m := &ChunkAck{ID: r.str8(), Index: r.u32()}
		if err := r.finish(); err != nil {
			return nil, err
		}
		return m, nil

	case TagChunkNack:
		m := &ChunkNack{ID: r.str8(), Index: r.u32(), Reason: NackReason(r.u8())}
		if err := r.finish(); err != nil {
			return nil, err
		}
		if m.Reason < NackMalformed || m.Reason > NackStorageFull {
			return nil, fmt.Errorf("%w: nack reason %d", ErrMalformedMessage, m.Reason)
		}
		return m, nil

	case TagTransferComplete:
		m := &TransferComplete{ID: r.str8()}
		if err := r.finish(); err != nil {
			return nil, err
		}
		return m, nil

	case TagTransferAbort:
		m := &TransferAbort{ID: r.str8(), Reason: r.str16()}
		if err := r.finish(); err != nil {
			return nil, err
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, byte(tag))
	}
}

// encoder builds a message body. The first error sticks.
type encoder struct {
	buf []byte
	err error
}

func (w *encoder) u8(v byte)  { w.buf = append(w.buf, v) }
func (w *encoder) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}
func (w *encoder) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}
func (w *encoder) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *encoder) str8(s string) {
	if w.err != nil {
		return
	}
	if len(s) == 0 || len(s) > 255 {
		w.err = fmt.Errorf("%w: identifier length %d", ErrMalformedMessage, len(s))
		return
	}
	w.u8(byte(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *encoder) str16(s string) {
	if w.err != nil {
		return
	}
	if len(s) > MaxReasonLength {
		s = s[:MaxReasonLength]
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	w.buf = append(w.buf, l[:]...)
	w.buf = append(w.buf, s...)
}

// name8 encodes an optional advisory string (may be empty).
func (w *encoder) name8(s string) {
	if w.err != nil {
		return
	}
	if len(s) > 255 {
		w.err = fmt.Errorf("%w: name length %d", ErrMalformedMessage, len(s))
		return
	}
	w.u8(byte(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *encoder) manifest(m *manifest.Manifest) {
	if w.err != nil {
		return
	}
	w.str8(m.FileID)
	w.name8(m.Filename)
	w.name8(m.Mime)
	w.u64(m.TotalSize)
	w.raw(m.FileHash[:])
	w.u32(uint32(len(m.Chunks)))
	for _, c := range m.Chunks {
		w.raw(c.ID[:])
		w.u32(c.Size)
	}
}

// decoder walks a message body. The first error sticks and every subsequent
// read returns zero values.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (r *decoder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *decoder) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.fail(ErrTruncatedMessage)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *decoder) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *decoder) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *decoder) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *decoder) str8() string {
	n := int(r.u8())
	if r.err != nil {
		return ""
	}
	if n == 0 {
		r.fail(fmt.Errorf("%w: empty identifier", ErrMalformedMessage))
		return ""
	}
	return string(r.take(n))
}

// name8 reads an optional advisory string (may be empty).
func (r *decoder) name8() string {
	n := int(r.u8())
	return string(r.take(n))
}

func (r *decoder) str16() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	n := int(binary.BigEndian.Uint16(b))
	if n > MaxReasonLength {
		r.fail(fmt.Errorf("%w: reason length %d", ErrMalformedMessage, n))
		return ""
	}
	return string(r.take(n))
}

func (r *decoder) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.data[r.off:]
	r.off = len(r.data)
	return b
}

// finish returns the sticky error, treating trailing bytes as malformed.
func (r *decoder) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, len(r.data)-r.off)
	}
	return nil
}

func (r *decoder) manifest() *manifest.Manifest {
	fileID := r.str8()
	filename := r.name8()
	mime := r.name8()
	totalSize := r.u64()

	var fileHash [manifest.HashSize]byte
	copy(fileHash[:], r.take(manifest.HashSize))

	count := r.u32()
	if r.err != nil {
		return nil
	}
	// Bound the descriptor count by the bytes actually present before
	// allocating the slice.
	remaining := len(r.data) - r.off
	if int(count)*chunkRefWireSize != remaining {
		r.fail(fmt.Errorf("%w: %d descriptors in %d bytes", ErrMalformedMessage, count, remaining))
		return nil
	}

	refs := make([]manifest.ChunkRef, 0, count)
	for i := uint32(0); i < count; i++ {
		var id manifest.ChunkID
		copy(id[:], r.take(manifest.HashSize))
		refs = append(refs, manifest.ChunkRef{ID: id, Index: i, Size: r.u32()})
	}
	if r.err != nil {
		return nil
	}

	m, err := manifest.Build(fileID, refs, manifest.Metadata{Filename: filename, Mime: mime})
	if err != nil {
		r.fail(fmt.Errorf("%w: %v", ErrMalformedMessage, err))
		return nil
	}
	if m.TotalSize != totalSize {
		r.fail(fmt.Errorf("%w: declared size %d, chunks sum to %d", ErrMalformedMessage, totalSize, m.TotalSize))
		return nil
	}
	if m.FileHash != fileHash {
		r.fail(fmt.Errorf("%w: file hash does not match chunk ids", ErrMalformedMessage))
		return nil
	}
	return m
}
