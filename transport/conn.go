package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/umbra-im/umbrafile/wire"
)

// Conn adapts a stream connection into a FrameTransport using the protocol's
// 4-byte big-endian length framing. Reads always complete whole frames;
// partial reads from the stream are handled by io.ReadFull inside
// wire.ReadFrame.
type Conn struct {
	conn         net.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	readMu  sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established stream connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c}
}

// SetWriteTimeout bounds each SendFrame; when the deadline passes the frame
// fails with ErrBackpressured. Zero disables the deadline.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.writeTimeout = d
}

// SendFrame implements FrameTransport.
func (c *Conn) SendFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return c.mapErr(err)
		}
	}
	if err := wire.WriteFrame(c.conn, frame); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// RecvFrame implements FrameTransport.
func (c *Conn) RecvFrame() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, c.mapErr(err)
	}
	return frame, nil
}

// Close implements FrameTransport. It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"remote":   c.conn.RemoteAddr(),
		}).Debug("Frame connection closed")
	})
	return c.closeErr
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// mapErr folds stream errors into the transport error vocabulary. Frame
// decode errors (oversize, empty) pass through so the session can classify
// them as protocol violations.
func (c *Conn) mapErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrBackpressured
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return ErrClosed
	}
	return err
}
