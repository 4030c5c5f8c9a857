package transport

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

// ErrPeerKeyMismatch indicates the remote static key did not match the
// pinned key.
var ErrPeerKeyMismatch = errors.New("peer static key mismatch")

// noiseCipherSuite is the fixed suite for transport encryption. A protocol
// constant, not a negotiation.
var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// GenerateKeypair creates a Curve25519 static keypair for NoiseTransport.
func GenerateKeypair() (noise.DHKey, error) {
	return noise.DH25519.GenerateKeypair(rand.Reader)
}

// NoiseTransport wraps an existing FrameTransport with Noise XX encryption.
// The handshake runs during construction; afterwards every frame is sealed
// with the directional cipher states.
type NoiseTransport struct {
	underlying FrameTransport
	peerStatic []byte

	sendMu     sync.Mutex
	sendCipher *noise.CipherState

	recvMu     sync.Mutex
	recvCipher *noise.CipherState
}

// NewNoiseTransport performs a Noise XX handshake over underlying and
// returns the encrypting wrapper. The initiator writes the first handshake
// message. If expectedPeer is non-nil, the remote static key must match it
// or the handshake fails and the underlying transport is closed.
func NewNoiseTransport(underlying FrameTransport, static noise.DHKey, initiator bool, expectedPeer []byte) (*NoiseTransport, error) {
	logrus.WithFields(logrus.Fields{
		"function":  "NewNoiseTransport",
		"initiator": initiator,
		"pinned":    expectedPeer != nil,
	}).Debug("Starting noise handshake")

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseCipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, fmt.Errorf("noise handshake init: %w", err)
	}

	var send, recv *noise.CipherState
	if initiator {
		send, recv, err = runInitiatorHandshake(hs, underlying)
	} else {
		send, recv, err = runResponderHandshake(hs, underlying)
	}
	if err != nil {
		underlying.Close()
		return nil, err
	}

	nt := &NoiseTransport{
		underlying: underlying,
		peerStatic: hs.PeerStatic(),
		sendCipher: send,
		recvCipher: recv,
	}

	if expectedPeer != nil && !bytes.Equal(nt.peerStatic, expectedPeer) {
		underlying.Close()
		return nil, ErrPeerKeyMismatch
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewNoiseTransport",
		"peer_key":  fmt.Sprintf("%x", nt.peerStatic[:8]),
		"initiator": initiator,
	}).Info("Noise handshake complete")

	return nt, nil
}

// runInitiatorHandshake drives the XX message sequence: write, read, write.
// The final WriteMessage yields the cipher states; the first is ours for
// sending.
func runInitiatorHandshake(hs *noise.HandshakeState, tr FrameTransport) (*noise.CipherState, *noise.CipherState, error) {
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("noise message 1: %w", err)
	}
	if err := tr.SendFrame(msg1); err != nil {
		return nil, nil, fmt.Errorf("noise message 1: %w", err)
	}

	resp, err := tr.RecvFrame()
	if err != nil {
		return nil, nil, fmt.Errorf("noise message 2: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, resp); err != nil {
		return nil, nil, fmt.Errorf("noise message 2: %w", err)
	}

	msg3, send, recv, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("noise message 3: %w", err)
	}
	if err := tr.SendFrame(msg3); err != nil {
		return nil, nil, fmt.Errorf("noise message 3: %w", err)
	}
	return send, recv, nil
}

// runResponderHandshake mirrors the initiator: read, write, read. The final
// ReadMessage yields the cipher states; the first is the peer's sending
// direction, so ours for receiving.
func runResponderHandshake(hs *noise.HandshakeState, tr FrameTransport) (*noise.CipherState, *noise.CipherState, error) {
	msg1, err := tr.RecvFrame()
	if err != nil {
		return nil, nil, fmt.Errorf("noise message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, nil, fmt.Errorf("noise message 1: %w", err)
	}

	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("noise message 2: %w", err)
	}
	if err := tr.SendFrame(msg2); err != nil {
		return nil, nil, fmt.Errorf("noise message 2: %w", err)
	}

	msg3, err := tr.RecvFrame()
	if err != nil {
		return nil, nil, fmt.Errorf("noise message 3: %w", err)
	}
	_, recv, send, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, nil, fmt.Errorf("noise message 3: %w", err)
	}
	return send, recv, nil
}

// PeerStatic returns the remote party's long-term public key learned during
// the handshake.
func (nt *NoiseTransport) PeerStatic() []byte {
	return append([]byte(nil), nt.peerStatic...)
}

// SendFrame implements FrameTransport, sealing the frame before it reaches
// the underlying transport.
func (nt *NoiseTransport) SendFrame(frame []byte) error {
	nt.sendMu.Lock()
	defer nt.sendMu.Unlock()

	sealed, err := nt.sendCipher.Encrypt(nil, nil, frame)
	if err != nil {
		return fmt.Errorf("noise encrypt: %w", err)
	}
	return nt.underlying.SendFrame(sealed)
}

// RecvFrame implements FrameTransport, opening the frame read from the
// underlying transport. A failed decryption is an authentication failure and
// surfaces as an error; the caller must treat it as fatal.
func (nt *NoiseTransport) RecvFrame() ([]byte, error) {
	nt.recvMu.Lock()
	defer nt.recvMu.Unlock()

	sealed, err := nt.underlying.RecvFrame()
	if err != nil {
		return nil, err
	}
	frame, err := nt.recvCipher.Decrypt(nil, nil, sealed)
	if err != nil {
		return nil, fmt.Errorf("noise decrypt: %w", err)
	}
	return frame, nil
}

// Close implements FrameTransport.
func (nt *NoiseTransport) Close() error {
	return nt.underlying.Close()
}
