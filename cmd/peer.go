package cmd

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/umbra-im/umbrafile/transfer"
	"github.com/umbra-im/umbrafile/transport"
)

// frameTransport wraps an established TCP connection for the protocol,
// layering Noise XX encryption on top when requested. peerKeyHex, when
// non-empty, pins the remote static key.
func frameTransport(conn net.Conn, useNoise, initiator bool, peerKeyHex string) (transport.FrameTransport, error) {
	base := transport.NewConn(conn)
	if !useNoise {
		return base, nil
	}

	var expected []byte
	if peerKeyHex != "" {
		var err error
		expected, err = hex.DecodeString(peerKeyHex)
		if err != nil {
			base.Close()
			return nil, fmt.Errorf("invalid --peer-key: %w", err)
		}
	}

	key, err := transport.GenerateKeypair()
	if err != nil {
		base.Close()
		return nil, fmt.Errorf("generate noise keypair: %w", err)
	}

	nt, err := transport.NewNoiseTransport(base, key, initiator, expected)
	if err != nil {
		return nil, fmt.Errorf("noise handshake: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Encrypted session established (peer key %x)\n", nt.PeerStatic())
	return nt, nil
}

// watchProgress renders a progress bar until the session terminates.
func watchProgress(s *transfer.Session, operation, filename string) {
	p := s.Progress()
	bar := progressbar.NewOptions64(int64(p.TotalBytes),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", operation, filename)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.Done():
			p = s.Progress()
			_ = bar.Set64(int64(p.BytesDone))
			if p.State == transfer.StateCompleted {
				_ = bar.Finish()
			}
			fmt.Fprintln(os.Stderr)
			return
		case <-ticker.C:
			_ = bar.Set64(int64(s.Progress().BytesDone))
		}
	}
}
