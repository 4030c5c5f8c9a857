package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command; all work happens in the send/receive
// subcommands.
var rootCmd = &cobra.Command{
	Use:   "umbrafile",
	Short: "Chunked peer-to-peer file transfer",
	Long: `umbrafile transfers files directly between two machines over TCP.

Files are split into content-addressed chunks, verified chunk by chunk on the
receiving side, and sent under an adaptive sliding window. Interrupted
transfers resume: chunks the receiver already holds are never re-sent. With
--noise the connection is encrypted end to end (Noise XX).

  Send a file:    umbrafile send --file ./backup.tar --addr 192.0.2.1:9400
  Receive files:  umbrafile receive --listen :9400 --out ./downloads`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.umbrafile.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	viper.SetEnvPrefix("UMBRAFILE")
	viper.AutomaticEnv()
}

// initConfig reads the config file and matching environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			logrus.WithError(err).Debug("Could not resolve home directory")
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".umbrafile")
	}

	if err := viper.ReadInConfig(); err == nil {
		logrus.WithField("config", viper.ConfigFileUsed()).Debug("Loaded config file")
	}
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cancelling transfer...")
		cancel()
	}()

	return ctx
}
