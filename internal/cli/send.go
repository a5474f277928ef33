package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/iamgatling/mxxc/internal/files"
	"github.com/iamgatling/mxxc/internal/rendezvous"
	"github.com/iamgatling/mxxc/internal/transfer"
	"github.com/iamgatling/mxxc/internal/ui"
	"github.com/spf13/cobra"
)

// peerCloseTimeout bounds how long the sender waits for the receiver to hang
// up once everything has been flushed.
const peerCloseTimeout = 10 * time.Second

var (
	sendFlags connFlags
	sendRoom  string
)

var sendCmd = &cobra.Command{
	Use:     "send <file>",
	Aliases: []string{"s"},
	Short:   "Send a file to a receiver",
	Long: `Send a file directly to a receiver over a WebRTC data channel.

Examples:
  mxxc send report.pdf
  mxxc send --room ABC123 report.pdf
  mxxc send --relay-url wss://relay.example.com/ws report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sendFlags.load("")
		if err != nil {
			return err
		}
		_, err = runSend(cmd.Context(), newOptions(cfg), args[0], sendRoom)
		return err
	},
}

func init() {
	sendFlags.register(sendCmd)
	sendCmd.Flags().StringVar(&sendRoom, "room", "", "Join this room code instead of creating one")
	rootCmd.AddCommand(sendCmd)
}

func runSend(ctx context.Context, o *options, path, room string) (ui.TransferSummary, error) {
	var summary ui.TransferSummary

	info, err := files.Validate(path)
	if err != nil {
		return summary, err
	}
	ui.RenderFileTable(ui.FileTableItem{Name: info.Name, Size: info.Size, Type: info.Type})

	f, err := os.Open(info.Path)
	if err != nil {
		return summary, transfer.NewFileError("open", info.Name, err)
	}
	defer f.Close()

	s, err := openSession(ctx, o)
	if err != nil {
		return summary, err
	}
	defer s.Close()

	if room != "" {
		err = s.rdv.Join(room)
	} else {
		err = s.rdv.Create()
	}
	if err != nil {
		return summary, err
	}

	stop := ui.RunConnectionSpinner("Opening room...")
	snap, err := s.joined(ctx)
	stop()
	if err != nil {
		return summary, err
	}
	ui.RenderRoomInfo(snap.Room)

	stop = ui.RunWaitingSpinner("Waiting for receiver...")
	err = s.rdv.WaitFor(ctx, rendezvous.StateConnected)
	stop()
	if err != nil {
		return summary, err
	}
	ui.PrintSuccess("Receiver connected")

	view := s.showView(o.view(ui.ModeSend, info.Name, info.Size))
	defer view.Stop()

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-view.Cancelled():
			cancel()
		case <-sendCtx.Done():
		}
	}()

	start := time.Now()
	meta := transfer.FileMetadata{Name: info.Name, Size: info.Size, Type: info.Type}
	if err = s.engine.SendFile(sendCtx, meta, f); err == nil {
		drainCtx, cancelDrain := context.WithTimeout(sendCtx, transfer.DrainTimeout)
		err = s.engine.Drain(drainCtx)
		cancelDrain()
	}
	view.Finish(err)
	view.Stop()
	if err != nil {
		return summary, err
	}

	// The receiver leaves once it has saved the file.
	waitCtx, cancelWait := context.WithTimeout(ctx, peerCloseTimeout)
	_, err = s.rdv.Wait(waitCtx, func(snap rendezvous.Snapshot) bool { return snap.State != rendezvous.StateConnected })
	cancelWait()
	if err != nil {
		slog.Debug("receiver did not hang up", "error", err)
	}

	summary = ui.TransferSummary{
		Status:   "Complete",
		File:     info.Name,
		Size:     info.Size,
		Duration: time.Since(start),
	}
	ui.RenderSummary("Transfer Summary", summary)
	return summary, nil
}
