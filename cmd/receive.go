package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/umbra-im/umbrafile/manifest"
	"github.com/umbra-im/umbrafile/storage"
	"github.com/umbra-im/umbrafile/transfer"
	"github.com/umbra-im/umbrafile/transport"
	"github.com/umbra-im/umbrafile/wire"
)

type receiveFlags struct {
	Listen   string
	OutDir   string
	ChunkDir string
	Noise    bool
	PeerKey  string
	Once     bool
}

var receiveOpts receiveFlags

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Receive files from sending peers",
	Long: `Listen for incoming transfers and write received files to --out.

Verified chunks are persisted under the chunk directory as they arrive, so an
interrupted transfer picks up where it left off when the sender retries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReceive(signalContext(), &receiveOpts)
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&receiveOpts.Listen, "listen", "l", ":9400", "listen address")
	receiveCmd.Flags().StringVarP(&receiveOpts.OutDir, "out", "o", ".", "directory to write received files to")
	receiveCmd.Flags().StringVar(&receiveOpts.ChunkDir, "chunk-dir", "", "chunk staging directory (default <out>/.umbrafile-chunks)")
	receiveCmd.Flags().BoolVar(&receiveOpts.Noise, "noise", false, "require an encrypted connection (Noise XX)")
	receiveCmd.Flags().StringVar(&receiveOpts.PeerKey, "peer-key", "", "hex static key to pin the sender to (implies --noise)")
	receiveCmd.Flags().BoolVar(&receiveOpts.Once, "once", false, "exit after the first transfer")

	viper.BindPFlag("receive.listen", receiveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("receive.out", receiveCmd.Flags().Lookup("out"))
}

func runReceive(ctx context.Context, flags *receiveFlags) error {
	if flags.ChunkDir == "" {
		flags.ChunkDir = filepath.Join(flags.OutDir, ".umbrafile-chunks")
	}
	store, err := storage.NewDirStore(flags.ChunkDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(flags.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ln, err := net.Listen("tcp", flags.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", flags.Listen, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	fmt.Fprintf(os.Stderr, "Listening on %s, writing files to %s\n", flags.Listen, flags.OutDir)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if err := serveTransfer(ctx, conn, store, flags); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runReceive",
				"remote":   conn.RemoteAddr(),
			}).WithError(err).Warn("Transfer failed")
			fmt.Fprintf(os.Stderr, "Transfer from %s failed: %v\n", conn.RemoteAddr(), err)
		}
		if flags.Once {
			return nil
		}
	}
}

// serveTransfer handles one inbound connection: offer, session, reassembly.
func serveTransfer(ctx context.Context, conn net.Conn, store storage.ChunkStore, flags *receiveFlags) error {
	peer := conn.RemoteAddr().String()

	useNoise := flags.Noise || flags.PeerKey != ""
	tr, err := frameTransport(conn, useNoise, false, flags.PeerKey)
	if err != nil {
		return err
	}
	defer tr.Close()

	frame, err := tr.RecvFrame()
	if err != nil {
		return fmt.Errorf("read offer: %w", err)
	}
	msg, err := wire.Unmarshal(frame)
	if err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	req, ok := msg.(*wire.TransferRequest)
	if !ok {
		if rerr := transfer.Reject(tr, msg.FileID(), "expected a transfer offer"); rerr != nil && !errors.Is(rerr, transport.ErrClosed) {
			logrus.WithError(rerr).Debug("Failed to send rejection")
		}
		return fmt.Errorf("peer opened with %s, not an offer", msg.Tag())
	}

	session, err := transfer.Accept(req, store, peer, tr, transfer.DefaultConfig())
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		session.Cancel()
	}()

	m := session.Manifest()
	watchProgress(session, "Receiving", m.Filename)

	outcome, err := session.AwaitTerminal(context.Background())
	if err != nil {
		return err
	}
	if outcome.State != transfer.StateCompleted {
		return fmt.Errorf("transfer %s: %w", outcome.State, outcome.Err)
	}

	path, err := writeReceivedFile(m, store, flags.OutDir)
	if err != nil {
		return err
	}
	fmt.Printf("Received %s (%d bytes, %d chunks) from %s\n", path, m.TotalSize, m.NumChunks(), peer)
	return nil
}

// writeReceivedFile reassembles a completed transfer from the chunk store
// into the output directory. The advisory filename is flattened to its base
// name so a hostile manifest cannot escape the directory.
func writeReceivedFile(m *manifest.Manifest, store storage.ChunkStore, outDir string) (string, error) {
	chunks := make([][]byte, m.NumChunks())
	for i, ref := range m.Chunks {
		data, err := store.Get(ref.ID)
		if err != nil {
			return "", fmt.Errorf("load chunk %d: %w", i, err)
		}
		chunks[i] = data
	}

	data, err := manifest.Reassemble(m, chunks)
	if err != nil {
		return "", err
	}

	name := filepath.Base(m.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = m.FileID
	}
	path := filepath.Join(outDir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
