package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/iamgatling/mxxc/internal/channel"
	"github.com/iamgatling/mxxc/internal/config"
	"github.com/iamgatling/mxxc/internal/rendezvous"
	"github.com/iamgatling/mxxc/internal/signaling"
	"github.com/iamgatling/mxxc/internal/transfer"
	"github.com/iamgatling/mxxc/internal/ui"
)

const leaveTimeout = 2 * time.Second

// relayConn is a relay connection the session can close.
type relayConn interface {
	rendezvous.Relay
	Close()
}

// progressView is what a session reports transfer progress to.
type progressView interface {
	UpdateProgress(current int64, speed float64)
	Finish(err error)
	Stop()
	Cancelled() <-chan struct{}
}

// options are the collaborators of a send or receive run.
type options struct {
	cfg   *config.Config
	dial  func(ctx context.Context, url string) (relayConn, error)
	peers channel.Factory
	view  func(mode ui.TransferMode, name string, size int64) progressView
}

func newOptions(cfg *config.Config) *options {
	return &options{
		cfg:   cfg,
		dial:  dialRelay,
		peers: channel.NewWebRTCFactory(cfg, slog.Default()),
		view:  terminalView,
	}
}

func dialRelay(ctx context.Context, url string) (relayConn, error) {
	client := signaling.NewClient(url, slog.Default())
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func terminalView(mode ui.TransferMode, name string, size int64) progressView {
	v := ui.NewTransferUI(mode, name, size)
	v.Start(os.Stderr)
	return v
}

// session ties a relay connection, the rendezvous client and the transfer
// engine together for one command run.
type session struct {
	relay  relayConn
	rdv    *rendezvous.Client
	engine *transfer.Engine

	started  chan transfer.Progress
	received chan transfer.ReceivedFile
	errs     chan error
	failed   chan error

	mu   sync.Mutex
	view progressView

	cancel  context.CancelFunc
	runDone chan struct{}
}

func openSession(ctx context.Context, o *options) (*session, error) {
	stop := ui.RunConnectionSpinner("Connecting to relay...")
	relay, err := o.dial(ctx, o.cfg.RelayURL)
	stop()
	if err != nil {
		return nil, &rendezvous.Error{Op: "connect", Err: fmt.Errorf("%w: %v", rendezvous.ErrRelayUnavailable, err)}
	}

	s := &session{
		relay:    relay,
		started:  make(chan transfer.Progress, 1),
		received: make(chan transfer.ReceivedFile, 1),
		errs:     make(chan error, 8),
		failed:   make(chan error, 2),
		runDone:  make(chan struct{}),
	}

	s.engine = transfer.NewEngine(transfer.Hooks{
		OnStart: func(p transfer.Progress) { offer(s.started, p) },
		OnProgress: func(p transfer.Progress) {
			if v := s.currentView(); v != nil {
				v.UpdateProgress(p.TransferredBytes, p.Speed)
			}
		},
		OnFileReceived: func(f transfer.ReceivedFile) { offer(s.received, f) },
		OnError:        func(err error) { offer(s.errs, err) },
	}, transfer.WithLogger(slog.Default()))

	s.rdv = rendezvous.New(relay, o.peers, s.engine, rendezvous.WithLogger(slog.Default()))

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.runDone)
		if err := s.rdv.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			offer(s.failed, err)
		}
	}()
	go func() {
		// Returns once the attempt fails for good.
		_, err := s.rdv.Wait(runCtx, func(rendezvous.Snapshot) bool { return false })
		if err != nil && runCtx.Err() == nil {
			offer(s.failed, err)
		}
	}()

	return s, nil
}

// offer sends v unless ch is full.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (s *session) showView(v progressView) progressView {
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	return v
}

func (s *session) currentView() progressView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// joined waits until the relay has acknowledged our room.
func (s *session) joined(ctx context.Context) (rendezvous.Snapshot, error) {
	return s.rdv.Wait(ctx, func(snap rendezvous.Snapshot) bool {
		switch snap.State {
		case rendezvous.StateWaitingForPeer, rendezvous.StateNegotiating, rendezvous.StateConnected:
			return true
		}
		return false
	})
}

// Close leaves the room before tearing the connection down.
func (s *session) Close() {
	if err := s.rdv.Leave(); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		if err := s.rdv.WaitFor(ctx, rendezvous.StateIdle); err != nil {
			slog.Debug("leave not confirmed", "error", err)
		}
		cancel()
	}
	s.cancel()
	<-s.runDone
	s.relay.Close()
}
