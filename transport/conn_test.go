package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-im/umbrafile/wire"
)

func connPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	ca, cb := net.Pipe()
	a, b := NewConn(ca), NewConn(cb)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestConnRoundTrip(t *testing.T) {
	a, b := connPair(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.SendFrame([]byte("framed over a stream"))
	}()

	got, err := b.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("framed over a stream"), got)
	require.NoError(t, <-errCh)
}

func TestConnPeerCloseSurfacesErrClosed(t *testing.T) {
	a, b := connPair(t)

	require.NoError(t, a.Close())

	_, err := b.RecvFrame()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnLocalCloseSurfacesErrClosed(t *testing.T) {
	a, _ := connPair(t)

	require.NoError(t, a.Close())

	_, err := a.RecvFrame()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.SendFrame([]byte("x")), ErrClosed)
}

func TestConnRejectsOversizeDeclaredFrame(t *testing.T) {
	raw, peer := net.Pipe()
	defer raw.Close()
	c := NewConn(peer)
	defer c.Close()

	// Raw header declaring a body over the ceiling, written past the
	// framing layer. The reader must fail on the header alone.
	go raw.Write([]byte{0xff, 0xff, 0xff, 0xff})

	_, err := c.RecvFrame()
	assert.ErrorIs(t, err, wire.ErrFrameTooLarge)
}

func TestConnSendOversizeFrame(t *testing.T) {
	a, _ := connPair(t)
	err := a.SendFrame(make([]byte, wire.MaxChunkFrame+1))
	assert.ErrorIs(t, err, wire.ErrFrameTooLarge)
}
