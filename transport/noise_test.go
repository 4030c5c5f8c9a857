package transport

import (
	"sync"
	"testing"

	"github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noisePair(t *testing.T) (*NoiseTransport, *NoiseTransport, noise.DHKey, noise.DHKey) {
	t.Helper()

	initKey, err := GenerateKeypair()
	require.NoError(t, err)
	respKey, err := GenerateKeypair()
	require.NoError(t, err)

	a, b := Pipe()

	var (
		wg       sync.WaitGroup
		nt1, nt2 *NoiseTransport
		err1     error
		err2     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		nt1, err1 = NewNoiseTransport(a, initKey, true, nil)
	}()
	go func() {
		defer wg.Done()
		nt2, err2 = NewNoiseTransport(b, respKey, false, nil)
	}()
	wg.Wait()

	require.NoError(t, err1)
	require.NoError(t, err2)
	t.Cleanup(func() { nt1.Close() })
	return nt1, nt2, initKey, respKey
}

func TestNoiseRoundTrip(t *testing.T) {
	nt1, nt2, _, _ := noisePair(t)

	require.NoError(t, nt1.SendFrame([]byte("sealed hello")))
	got, err := nt2.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed hello"), got)

	require.NoError(t, nt2.SendFrame([]byte("sealed reply")))
	got, err = nt1.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed reply"), got)
}

func TestNoiseLearnsPeerStatic(t *testing.T) {
	nt1, nt2, initKey, respKey := noisePair(t)

	assert.Equal(t, respKey.Public, nt1.PeerStatic())
	assert.Equal(t, initKey.Public, nt2.PeerStatic())
}

func TestNoiseFramesAreOpaqueOnTheWire(t *testing.T) {
	initKey, err := GenerateKeypair()
	require.NoError(t, err)
	respKey, err := GenerateKeypair()
	require.NoError(t, err)

	a, b := Pipe()

	var (
		wg   sync.WaitGroup
		err2 error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err2 = NewNoiseTransport(b, respKey, false, nil)
	}()
	nt1, err := NewNoiseTransport(a, initKey, true, nil)
	require.NoError(t, err)
	defer nt1.Close()
	wg.Wait()
	require.NoError(t, err2)

	plaintext := []byte("do not leak this")
	require.NoError(t, nt1.SendFrame(plaintext))

	// Read the raw frame underneath the responder's wrapper: it must be
	// ciphertext, longer than the plaintext by the AEAD tag.
	sealed, err := b.RecvFrame()
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)
	assert.Greater(t, len(sealed), len(plaintext))
}

func TestNoisePinnedPeerMismatch(t *testing.T) {
	initKey, err := GenerateKeypair()
	require.NoError(t, err)
	respKey, err := GenerateKeypair()
	require.NoError(t, err)
	wrongKey, err := GenerateKeypair()
	require.NoError(t, err)

	a, b := Pipe()

	go NewNoiseTransport(b, respKey, false, nil)

	// Pin a key the responder does not hold.
	_, err = NewNoiseTransport(a, initKey, true, wrongKey.Public)
	assert.ErrorIs(t, err, ErrPeerKeyMismatch)
}

func TestNoiseTamperedFrameFailsDecrypt(t *testing.T) {
	initKey, err := GenerateKeypair()
	require.NoError(t, err)
	respKey, err := GenerateKeypair()
	require.NoError(t, err)

	// Handshake directly over one pipe, then relay a corrupted ciphertext.
	a, b := Pipe()

	var (
		wg   sync.WaitGroup
		nt2  *NoiseTransport
		err2 error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		nt2, err2 = NewNoiseTransport(b, respKey, false, nil)
	}()
	nt1, err := NewNoiseTransport(a, initKey, true, nil)
	require.NoError(t, err)
	defer nt1.Close()
	wg.Wait()
	require.NoError(t, err2)

	// Send a frame whose ciphertext the receiver never saw: encrypt, then
	// flip a byte by sending through the raw pipe underneath.
	sealed, err := nt1.sendCipher.Encrypt(nil, nil, []byte("genuine"))
	require.NoError(t, err)
	sealed[0] ^= 0xff
	require.NoError(t, a.SendFrame(sealed))

	_, err = nt2.RecvFrame()
	assert.Error(t, err)
}
