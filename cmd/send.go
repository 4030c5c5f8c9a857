package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/umbra-im/umbrafile/manifest"
	"github.com/umbra-im/umbrafile/storage"
	"github.com/umbra-im/umbrafile/transfer"
)

type sendFlags struct {
	FilePath string
	Addr     string
	Noise    bool
	PeerKey  string
}

var sendOpts sendFlags

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a file to a listening peer",
	Long: `Send a file to a peer running "umbrafile receive".

The file is split into content-addressed chunks and offered to the peer; the
peer answers with the chunks it already holds, so re-running an interrupted
send transfers only what is missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(signalContext(), &sendOpts)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendOpts.FilePath, "file", "f", "", "path of the file to send (required)")
	sendCmd.Flags().StringVarP(&sendOpts.Addr, "addr", "a", "", "receiver address host:port (required)")
	sendCmd.Flags().BoolVar(&sendOpts.Noise, "noise", false, "encrypt the connection (Noise XX)")
	sendCmd.Flags().StringVar(&sendOpts.PeerKey, "peer-key", "", "hex static key to pin the receiver to (implies --noise)")

	sendCmd.MarkFlagRequired("file")
	sendCmd.MarkFlagRequired("addr")

	viper.BindPFlag("send.file", sendCmd.Flags().Lookup("file"))
	viper.BindPFlag("send.addr", sendCmd.Flags().Lookup("addr"))
}

func runSend(ctx context.Context, flags *sendFlags) error {
	data, err := os.ReadFile(flags.FilePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", flags.FilePath, err)
	}

	m, chunks, err := manifest.ChunkBytes(uuid.NewString(), filepath.Base(flags.FilePath), data, manifest.DefaultChunkSize)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", flags.FilePath, err)
	}

	store := storage.NewMemoryStore()
	for i, ref := range m.Chunks {
		if err := store.Put(ref.ID, chunks[i]); err != nil {
			return fmt.Errorf("stage chunk %d: %w", i, err)
		}
	}

	conn, err := net.Dial("tcp", flags.Addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", flags.Addr, err)
	}

	useNoise := flags.Noise || flags.PeerKey != ""
	tr, err := frameTransport(conn, useNoise, true, flags.PeerKey)
	if err != nil {
		return err
	}

	session, err := transfer.StartSend(m, store, flags.Addr, tr, transfer.DefaultConfig())
	if err != nil {
		tr.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		session.Cancel()
	}()

	watchProgress(session, "Sending", m.Filename)

	outcome, err := session.AwaitTerminal(context.Background())
	if err != nil {
		return err
	}
	if outcome.State != transfer.StateCompleted {
		return fmt.Errorf("transfer %s: %w", outcome.State, outcome.Err)
	}

	fmt.Printf("Sent %s (%d bytes, %d chunks) to %s\n", m.Filename, m.TotalSize, m.NumChunks(), flags.Addr)
	return nil
}
