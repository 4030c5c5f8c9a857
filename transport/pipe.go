package transport

import (
	"sync"
)

// defaultPipeCapacity is the per-direction frame queue depth for Pipe.
const defaultPipeCapacity = 64

// PipeTransport is one endpoint of an in-memory connected pair.
type PipeTransport struct {
	send chan []byte
	recv chan []byte

	done      chan struct{}
	closeOnce *sync.Once
}

// Pipe creates a connected in-memory transport pair with the default queue
// capacity. Frames written to one endpoint are read from the other, in
// order. Closing either endpoint closes both directions.
func Pipe() (*PipeTransport, *PipeTransport) {
	return PipeCapacity(defaultPipeCapacity)
}

// PipeCapacity creates a connected pair with an explicit per-direction queue
// capacity. A full queue blocks SendFrame until the peer drains it.
func PipeCapacity(capacity int) (*PipeTransport, *PipeTransport) {
	ab := make(chan []byte, capacity)
	ba := make(chan []byte, capacity)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &PipeTransport{send: ab, recv: ba, done: done, closeOnce: once}
	b := &PipeTransport{send: ba, recv: ab, done: done, closeOnce: once}
	return a, b
}

// SendFrame implements FrameTransport. The frame is copied, so the caller
// may reuse its buffer.
func (p *PipeTransport) SendFrame(frame []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	buf := append([]byte(nil), frame...)
	select {
	case p.send <- buf:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// RecvFrame implements FrameTransport. Frames already queued before a close
// are still delivered.
func (p *PipeTransport) RecvFrame() ([]byte, error) {
	select {
	case frame := <-p.recv:
		return frame, nil
	default:
	}

	select {
	case frame := <-p.recv:
		return frame, nil
	case <-p.done:
		// Drain anything that raced with the close.
		select {
		case frame := <-p.recv:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Close implements FrameTransport. Both endpoints observe the close.
func (p *PipeTransport) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}
