// Package transport provides framed byte transports for transfer sessions.
//
// The session layer treats a transport as a black box that delivers
// authenticated whole frames in FIFO order per direction, may close at any
// time, and reports close as an error from SendFrame/RecvFrame.
//
// Three implementations are provided: Conn adapts any net.Conn with
// length-prefixed framing, Pipe is an in-memory connected pair for tests and
// same-process transfers, and NoiseTransport wraps another FrameTransport
// with Noise XX encryption.
package transport

import "errors"

// ErrClosed indicates the transport has been closed, locally or by the peer.
var ErrClosed = errors.New("transport closed")

// ErrBackpressured indicates the transport cannot accept the frame right
// now. The frame was not sent.
var ErrBackpressured = errors.New("transport backpressured")

// FrameTransport delivers whole frames in FIFO order per direction.
//
// SendFrame and RecvFrame may block; both fail with ErrClosed after Close
// (or peer close). Implementations must allow one concurrent sender and one
// concurrent receiver.
type FrameTransport interface {
	SendFrame(frame []byte) error
	RecvFrame() ([]byte, error)
	Close() error
}
