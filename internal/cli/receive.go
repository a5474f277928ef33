package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/iamgatling/mxxc/internal/roomcode"
	"github.com/iamgatling/mxxc/internal/transfer"
	"github.com/iamgatling/mxxc/internal/ui"
	"github.com/iamgatling/mxxc/internal/utils"
	"github.com/spf13/cobra"
)

var (
	receiveFlags connFlags
	receiveDir   string
)

var receiveCmd = &cobra.Command{
	Use:     "receive <room-code|url>",
	Aliases: []string{"r"},
	Short:   "Receive a file from a sender",
	Long: `Receive a file directly from a sender over a WebRTC data channel.

Examples:
  mxxc receive ABC123
  mxxc receive https://mxxc.example.com/r/ABC123
  mxxc receive ABC123 --dir ~/Downloads`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		cfg, err := receiveFlags.load(receiveDir)
		if err != nil {
			return err
		}
		_, err = runReceive(cmd.Context(), newOptions(cfg), code)
		return err
	},
}

func init() {
	receiveFlags.register(receiveCmd)
	receiveCmd.Flags().StringVarP(&receiveDir, "dir", "d", "", "Directory to save the received file in")
	rootCmd.AddCommand(receiveCmd)
}

func runReceive(ctx context.Context, o *options, code string) (ui.TransferSummary, error) {
	var summary ui.TransferSummary

	s, err := openSession(ctx, o)
	if err != nil {
		return summary, err
	}
	defer s.Close()

	if err := s.rdv.Join(code); err != nil {
		return summary, err
	}

	stop := ui.RunConnectionSpinner("Joining room " + code + "...")
	_, err = s.joined(ctx)
	stop()
	if err != nil {
		return summary, err
	}

	stop = ui.RunWaitingSpinner("Waiting for sender...")
	defer stop()

	var (
		view      progressView
		cancelled <-chan struct{}
		start     = time.Now()
	)
	finish := func(err error) {
		if view != nil {
			view.Finish(err)
			view.Stop()
		}
	}

	for {
		select {
		case p := <-s.started:
			stop()
			start = time.Now()
			if view == nil {
				view = s.showView(o.view(ui.ModeReceive, p.Metadata.Name, p.Metadata.Size))
				cancelled = view.Cancelled()
			}

		case f := <-s.received:
			stop()
			path, err := saveFile(o.cfg.OutputDir, f)
			finish(err)
			if err != nil {
				return summary, err
			}
			summary = ui.TransferSummary{
				Status:   "Complete",
				File:     f.Metadata.Name,
				Size:     int64(len(f.Data)),
				Duration: time.Since(start),
				SavedTo:  path,
			}
			ui.RenderSummary("Transfer Summary", summary)
			return summary, nil

		case err := <-s.errs:
			stop()
			finish(err)
			return summary, err

		case err := <-s.failed:
			stop()
			finish(err)
			return summary, err

		case <-cancelled:
			stop()
			finish(nil)
			return summary, transfer.NewError("receive", transfer.ErrCancelled)

		case <-ctx.Done():
			stop()
			finish(ctx.Err())
			return summary, ctx.Err()
		}
	}
}

// saveFile writes f into dir under a name that doesn't clash with an
// existing file.
func saveFile(dir string, f transfer.ReceivedFile) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", transfer.NewError("create output dir", err)
	}
	path := utils.GetUniqueFilename(dir, utils.SafeFilename(f.Metadata.Name))
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", transfer.NewFileError("write", path, err)
	}
	return path, nil
}

// parseRoomInput accepts a bare code or a share link ending in /r/CODE.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room code cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		code, err := extractRoomCodeFromURL(input)
		if err != nil {
			return "", err
		}
		input = code
	}

	return roomcode.Parse(input, 0)
}

func extractRoomCodeFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", transfer.NewError("parse URL", err)
	}

	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room code from URL: %s", raw)
}
