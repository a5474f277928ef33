package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/iamgatling/mxxc/internal/ui"
	"github.com/iamgatling/mxxc/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mxxc",
	Short: "Peer-to-peer file transfer over WebRTC data channels",
	Long: `mxxc sends a file directly between two machines. A small relay pairs the
two peers by room code and forwards their WebRTC handshake; the file itself
travels over a peer-to-peer data channel.`,
	Version: version.Version,
}

// Execute runs the root command. An interrupt cancels the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
