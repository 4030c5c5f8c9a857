package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/umbra-im/umbrafile/manifest"
)

const (
	// FrameHeaderSize is the length prefix size in bytes.
	FrameHeaderSize = 4

	// MaxControlFrame is the decode-time ceiling for every message except
	// ChunkData.
	MaxControlFrame = 64 * 1024

	// FrameOverhead bounds the non-payload portion of a chunk frame: tag,
	// file id, index, and room for transport-level AEAD overhead.
	FrameOverhead = 512

	// MaxChunkFrame is the decode-time ceiling for chunk frames.
	MaxChunkFrame = manifest.ChunkMax + FrameOverhead
)

var (
	// ErrFrameTooLarge indicates a frame over MaxChunkFrame. It is raised
	// before the payload is allocated.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrMessageTooLarge indicates a control message over MaxControlFrame.
	ErrMessageTooLarge = errors.New("control message exceeds maximum size")

	// ErrEmptyFrame indicates a zero-length frame.
	ErrEmptyFrame = errors.New("empty frame")
)

// WriteFrame writes body to w as a length-prefixed frame.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if len(body) > MaxChunkFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r. The declared length is
// validated against MaxChunkFrame before the payload buffer is allocated, so
// an over-limit frame never costs more than the 4-byte header read.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxChunkFrame {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
